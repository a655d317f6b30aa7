package dto

const (
	STATUS_LOBBY    = "lobby"
	STATUS_STARTED  = "started"
	STATUS_FINISHED = "finished"
)

const DEFAULT_MAX_PLAYERS = 10

// Room 是房间的持久记录，Players 按加入顺序保存成员的用户 ID
type Room struct {
	Code       string   `json:"code"`
	HostID     string   `json:"host_id"`
	MaxPlayers int      `json:"max_players"`
	Status     string   `json:"status"`
	Players    []string `json:"players"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

func (r *Room) Clone() Room {
	c := *r
	c.Players = append(make([]string, 0, len(r.Players)), r.Players...)

	return c
}

func (r *Room) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}
