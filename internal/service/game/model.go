package game

import (
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/geo"
)

// 玩家身份
type Role string

const (
	RoleCrewmate Role = "crewmate"
	RoleImpostor Role = "impostor"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCrewmate, RoleImpostor:
		return true
	default:
		return false
	}
}

// 投票时选择跳过的哨兵值，与“尚未投票”区分开
const VoteSkip = "skip"

// 计时器名称
const TimerMeetingEnd = "meetingEnd"

// 会议的发起来源，仅用于客户端展示
type MeetingOrigin string

const (
	MeetingOriginReport    MeetingOrigin = "report"
	MeetingOriginEmergency MeetingOrigin = "emergency"
)

// Member 是开局时由房间成员快照带入的玩家及其已分配的身份
type Member struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type Cooldowns struct {
	// 击杀冷却结束时间（毫秒时间戳），0 表示没有冷却
	KillUntil int64 `json:"killUntil"`
}

type PlayerState struct {
	Role         Role         `json:"role"`
	Alive        bool         `json:"alive"`
	Position     geo.Position `json:"position"`
	Disconnected bool         `json:"disconnected"`
	Cooldowns    Cooldowns    `json:"cooldowns"`
}

// Body 是击杀后留在现场的证据，会议结算时清空
type Body struct {
	VictimID string  `json:"victimId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	KilledAt int64   `json:"killedAt"`
}

func (b Body) Position() geo.Position {
	return geo.Position{Lat: b.Lat, Lng: b.Lng}
}

type Tasks struct {
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	PerPlayer map[string]int `json:"perPlayer"`
}

type ChatMessage struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Text   string `json:"text"`
	SentAt int64  `json:"sentAt"`
}

type Meeting struct {
	Origin       MeetingOrigin `json:"origin"`
	CallerID     string        `json:"callerId"`
	BodyVictimID string        `json:"bodyVictimId,omitempty"`
	StartedAt    int64         `json:"startedAt"`
	EndsAt       int64         `json:"endsAt"`
}

// SessionState 是一局游戏的全部可变状态，由引擎独占
// 每次修改都是对存储中唯一文档的读-改-写
type SessionState struct {
	RoomCode string                  `json:"roomCode"`
	Phase    Phase                   `json:"phase"`
	Players  map[string]*PlayerState `json:"players"`
	// 成员加入顺序，用于稳定遍历和平局排序
	Order   []string          `json:"order"`
	Bodies  []Body            `json:"bodies"`
	Tasks   Tasks             `json:"tasks"`
	Votes   map[string]string `json:"votes"`
	Timers  map[string]int64  `json:"timers"`
	Chat    []ChatMessage     `json:"chat"`
	Meeting *Meeting          `json:"meeting,omitempty"`
	Winner  Role              `json:"winner,omitempty"`

	StartedAt int64 `json:"startedAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// normalize 补齐解码后可能为 nil 的集合字段
func (s *SessionState) normalize() {
	if s.Players == nil {
		s.Players = make(map[string]*PlayerState)
	}
	if s.Votes == nil {
		s.Votes = make(map[string]string)
	}
	if s.Timers == nil {
		s.Timers = make(map[string]int64)
	}
	if s.Tasks.PerPlayer == nil {
		s.Tasks.PerPlayer = make(map[string]int)
	}
	if s.Bodies == nil {
		s.Bodies = make([]Body, 0)
	}
	if s.Chat == nil {
		s.Chat = make([]ChatMessage, 0)
	}
}

// CountAlive 按身份统计存活玩家
func (s *SessionState) CountAlive() (impostors, crew int) {
	return countAlive(s.Players)
}

func countAlive(players map[string]*PlayerState) (impostors, crew int) {
	for _, p := range players {
		if !p.Alive {
			continue
		}

		switch p.Role {
		case RoleImpostor:
			impostors++
		case RoleCrewmate:
			crew++
		}
	}

	return impostors, crew
}

// AllVoted 判断是否每个存活玩家都已投票（跳过也算）
func (s *SessionState) AllVoted() bool {
	for id, p := range s.Players {
		if !p.Alive {
			continue
		}

		if _, ok := s.Votes[id]; !ok {
			return false
		}
	}

	return true
}

func (s *SessionState) findBody(victimID string) (Body, bool) {
	for _, b := range s.Bodies {
		if b.VictimID == victimID {
			return b, true
		}
	}

	return Body{}, false
}

// orderedIDs 按成员顺序返回玩家 ID，Order 缺失的玩家追加在末尾
func (s *SessionState) orderedIDs() []string {
	ids := make([]string, 0, len(s.Players))
	seen := make(map[string]struct{}, len(s.Players))

	for _, id := range s.Order {
		if _, ok := s.Players[id]; ok {
			ids = append(ids, id)
			seen[id] = struct{}{}
		}
	}

	for id := range s.Players {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}

	return ids
}

// Clone 深拷贝状态，返回给调用方的快照不能与引擎内部共享
func (s *SessionState) Clone() *SessionState {
	cp := *s

	cp.Players = make(map[string]*PlayerState, len(s.Players))
	for id, p := range s.Players {
		pc := *p
		cp.Players[id] = &pc
	}

	cp.Order = append([]string(nil), s.Order...)
	cp.Bodies = append(make([]Body, 0, len(s.Bodies)), s.Bodies...)
	cp.Chat = append(make([]ChatMessage, 0, len(s.Chat)), s.Chat...)

	cp.Votes = make(map[string]string, len(s.Votes))
	for k, v := range s.Votes {
		cp.Votes[k] = v
	}

	cp.Timers = make(map[string]int64, len(s.Timers))
	for k, v := range s.Timers {
		cp.Timers[k] = v
	}

	cp.Tasks.PerPlayer = make(map[string]int, len(s.Tasks.PerPlayer))
	for k, v := range s.Tasks.PerPlayer {
		cp.Tasks.PerPlayer[k] = v
	}

	if s.Meeting != nil {
		m := *s.Meeting
		cp.Meeting = &m
	}

	return &cp
}
