package game

import "github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/geo"

type MoveRequest struct {
	Position *geo.Position `json:"position"`
}

type KillRequest struct {
	VictimID string `json:"victim_id"`
}

type ReportBodyRequest struct {
	VictimID string `json:"victim_id"`
}

// TargetID 为空或 "skip" 表示跳过
type VoteRequest struct {
	TargetID string `json:"target_id"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type StartedNotification struct {
	RoomCode   string   `json:"room_code"`
	Players    []string `json:"players"`
	TotalTasks int      `json:"total_tasks"`
}

type RoleNotification struct {
	Role Role `json:"role"`
}

// KillEventNotification 广播给所有人，不包含凶手
type KillEventNotification struct {
	VictimID string       `json:"victim_id"`
	Position geo.Position `json:"position"`
}

type NearbyTargetsNotification struct {
	Targets []NearbyTarget `json:"targets"`
}

type FreeplayResumedNotification struct {
	Phase Phase `json:"phase"`
}

type EndedNotification struct {
	Winner Role            `json:"winner"`
	Reason string          `json:"reason"`
	Roles  map[string]Role `json:"roles"`
}

type ConnectionNotification struct {
	UserID string `json:"user_id"`
}

// PublicPlayer 是对其他玩家可见的信息，不包含身份
type PublicPlayer struct {
	UserID       string       `json:"user_id"`
	Alive        bool         `json:"alive"`
	Position     geo.Position `json:"position"`
	Disconnected bool         `json:"disconnected"`
}

// SnapshotNotification 是断线重连时发给玩家本人的状态快照
type SnapshotNotification struct {
	Phase    Phase          `json:"phase"`
	Role     Role           `json:"role"`
	Players  []PublicPlayer `json:"players"`
	Bodies   []Body         `json:"bodies"`
	Tasks    Tasks          `json:"tasks"`
	Meeting  *Meeting       `json:"meeting,omitempty"`
	Chat     []ChatMessage  `json:"chat"`
	HasVoted bool           `json:"has_voted"`
}

// BuildSnapshot 生成针对某个玩家的快照，只暴露该玩家自己的身份
func BuildSnapshot(s *SessionState, userID string) SnapshotNotification {
	snap := SnapshotNotification{
		Phase:   s.Phase,
		Players: make([]PublicPlayer, 0, len(s.Players)),
		Bodies:  append(make([]Body, 0, len(s.Bodies)), s.Bodies...),
		Tasks: Tasks{
			Total:     s.Tasks.Total,
			Completed: s.Tasks.Completed,
			PerPlayer: map[string]int{userID: s.Tasks.PerPlayer[userID]},
		},
		Meeting: s.Meeting,
		Chat:    append(make([]ChatMessage, 0, len(s.Chat)), s.Chat...),
	}

	if me, ok := s.Players[userID]; ok {
		snap.Role = me.Role
	}

	_, snap.HasVoted = s.Votes[userID]

	for _, id := range s.orderedIDs() {
		p := s.Players[id]
		snap.Players = append(snap.Players, PublicPlayer{
			UserID:       id,
			Alive:        p.Alive,
			Position:     p.Position,
			Disconnected: p.Disconnected,
		})
	}

	return snap
}

// RolesOf 游戏结束时公开所有身份
func RolesOf(s *SessionState) map[string]Role {
	roles := make(map[string]Role, len(s.Players))
	for id, p := range s.Players {
		roles[id] = p.Role
	}

	return roles
}
