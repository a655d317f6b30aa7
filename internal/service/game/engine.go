package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/geo"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/store"

	"go.uber.org/zap"
)

// Rules 是可配置的游戏规则
type Rules struct {
	KillRange       float64 // 米
	ReportRange     float64 // 米
	KillCooldown    time.Duration
	MeetingDuration time.Duration
	TotalTasks      int
	ChatCapacity    int
	ChatMaxLength   int
	MaxAttempts     int // 版本冲突时最多尝试的次数
}

func DefaultRules() Rules {
	return Rules{
		KillRange:       8,
		ReportRange:     10,
		KillCooldown:    30 * time.Second,
		MeetingDuration: 60 * time.Second,
		TotalTasks:      10,
		ChatCapacity:    50,
		ChatMaxLength:   200,
		MaxAttempts:     3,
	}
}

// withDefaults 用默认值补齐未设置的规则项
func (r Rules) withDefaults() Rules {
	d := DefaultRules()

	if r.KillRange <= 0 {
		r.KillRange = d.KillRange
	}
	if r.ReportRange <= 0 {
		r.ReportRange = d.ReportRange
	}
	if r.KillCooldown < 0 {
		r.KillCooldown = d.KillCooldown
	}
	if r.MeetingDuration <= 0 {
		r.MeetingDuration = d.MeetingDuration
	}
	if r.TotalTasks <= 0 {
		r.TotalTasks = d.TotalTasks
	}
	if r.ChatCapacity <= 0 {
		r.ChatCapacity = d.ChatCapacity
	}
	if r.ChatMaxLength <= 0 {
		r.ChatMaxLength = d.ChatMaxLength
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = d.MaxAttempts
	}

	return r
}

// Engine 是游戏状态引擎，负责会话文档、阶段状态机以及所有受约束的操作
// 同一房间的操作在进程内串行执行，写回时再用版本号做一次比较，
// 多个进程共享同一存储时也不会丢失更新
type Engine struct {
	store store.SessionStore
	codec store.Codec
	rules Rules
	now   func() time.Time
	locks *roomLocks
}

func NewEngine(st store.SessionStore, codec store.Codec, rules Rules) *Engine {
	if codec == nil {
		codec = store.JSONCodec
	}

	return &Engine{
		store: st,
		codec: codec,
		rules: rules.withDefaults(),
		now:   time.Now,
		locks: newRoomLocks(),
	}
}

// SetClock 替换时间来源，测试中用来推进冷却和会议计时
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) Rules() Rules {
	return e.rules
}

// 表示操作校验通过但无需写回
var errNoChange = errors.New("no change")

func (e *Engine) load(ctx context.Context, roomCode string) (*SessionState, int64, error) {
	doc, version, err := e.store.Load(ctx, roomCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, 0, notFound("no active session for room %s", roomCode)
		}

		return nil, 0, fmt.Errorf("加载会话状态失败: %w", err)
	}

	var s SessionState
	if err := e.codec.Unmarshal(doc, &s); err != nil {
		return nil, 0, fmt.Errorf("解码会话状态失败: %w", err)
	}

	s.normalize()

	return &s, version, nil
}

func (e *Engine) save(ctx context.Context, s *SessionState, expect int64) error {
	doc, err := e.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("编码会话状态失败: %w", err)
	}

	_, err = e.store.Save(ctx, s.RoomCode, doc, expect)

	return err
}

// update 在房间的串行槽内执行一次读-校验-修改-写回
// fn 返回错误时不写回；版本冲突时重新读取并重放 fn
func (e *Engine) update(
	ctx context.Context,
	roomCode string,
	fn func(s *SessionState, now time.Time) error,
) error {
	unlock := e.locks.lock(roomCode)
	defer unlock()

	for attempt := 1; attempt <= e.rules.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, version, err := e.load(ctx, roomCode)
		if err != nil {
			return err
		}

		now := e.now()

		if err := fn(s, now); err != nil {
			if errors.Is(err, errNoChange) {
				return nil
			}

			return err
		}

		s.UpdatedAt = now.UnixMilli()

		err = e.save(ctx, s, version)
		if err == nil {
			return nil
		}

		if !errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("写回会话状态失败: %w", err)
		}

		zap.L().Debug(
			"会话状态版本冲突，重试",
			zap.String("room_code", roomCode),
			zap.Int("attempt", attempt),
		)
	}

	return preconditionFailed("room %s is busy, please retry", roomCode)
}

// view 在串行槽内只读地访问状态
func (e *Engine) view(
	ctx context.Context,
	roomCode string,
	fn func(s *SessionState, now time.Time) error,
) error {
	unlock := e.locks.lock(roomCode)
	defer unlock()

	s, _, err := e.load(ctx, roomCode)
	if err != nil {
		return err
	}

	return fn(s, e.now())
}

// InitSession 为房间创建新的会话状态，覆盖该房间已有的任何状态
// members 必须已经带有分配好的身份
func (e *Engine) InitSession(ctx context.Context, roomCode string, members []Member) (*SessionState, error) {
	if len(members) == 0 {
		return nil, preconditionFailed("cannot start a session without players")
	}

	now := e.now()

	s := &SessionState{
		RoomCode: roomCode,
		Phase:    PhaseStarted,
		Players:  make(map[string]*PlayerState, len(members)),
		Order:    make([]string, 0, len(members)),
		Tasks: Tasks{
			Total:     e.rules.TotalTasks,
			PerPlayer: make(map[string]int),
		},
		StartedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}
	s.normalize()

	impostors := 0
	for _, m := range members {
		if m.UserID == "" {
			return nil, preconditionFailed("member without user id")
		}
		if !m.Role.Valid() {
			return nil, preconditionFailed("member %s has unknown role %q", m.UserID, m.Role)
		}
		if _, dup := s.Players[m.UserID]; dup {
			return nil, preconditionFailed("member %s listed twice", m.UserID)
		}

		if m.Role == RoleImpostor {
			impostors++
		}

		s.Players[m.UserID] = &PlayerState{
			Role:     m.Role,
			Alive:    true,
			Position: geo.Origin,
		}
		s.Order = append(s.Order, m.UserID)
	}

	if impostors != 1 {
		return nil, preconditionFailed("a session needs exactly one impostor, got %d", impostors)
	}

	if err := transition(s, PhaseFreeplay); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(roomCode)
	defer unlock()

	if err := e.save(ctx, s, store.AnyVersion); err != nil {
		return nil, fmt.Errorf("保存会话状态失败: %w", err)
	}

	zap.L().Info(
		"会话已初始化",
		zap.String("room_code", roomCode),
		zap.Int("players", len(members)),
	)

	return s.Clone(), nil
}

// Snapshot 返回当前状态的深拷贝
func (e *Engine) Snapshot(ctx context.Context, roomCode string) (*SessionState, error) {
	var snapshot *SessionState

	err := e.view(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		snapshot = s.Clone()
		return nil
	})

	return snapshot, err
}

// SetDisconnected 只更新断线标记，断线不等于死亡
func (e *Engine) SetDisconnected(ctx context.Context, roomCode, userID string, disconnected bool) error {
	return e.update(ctx, roomCode, func(s *SessionState, _ time.Time) error {
		p, ok := s.Players[userID]
		if !ok {
			return notFound("player %s is not in this session", userID)
		}

		if p.Disconnected == disconnected {
			return errNoChange
		}

		p.Disconnected = disconnected

		return nil
	})
}

// DeleteSession 删除会话状态，之后该房间的所有操作都返回 NotFound
func (e *Engine) DeleteSession(ctx context.Context, roomCode string) error {
	unlock := e.locks.lock(roomCode)
	defer unlock()

	return e.store.Delete(ctx, roomCode)
}

// ActiveSessions 返回存储中仍有会话状态的房间号
func (e *Engine) ActiveSessions(ctx context.Context) ([]string, error) {
	return e.store.ActiveCodes(ctx)
}

// endSession 记录胜者并进入终态
func endSession(s *SessionState, winner Role) error {
	if err := transition(s, PhaseEnded); err != nil {
		return err
	}

	s.Winner = winner
	s.Meeting = nil
	delete(s.Timers, TimerMeetingEnd)

	return nil
}

// roomLocks 是按房间号分配的互斥锁，引用计数归零后回收
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{
		locks: make(map[string]*roomLock),
	}
}

func (l *roomLocks) lock(roomCode string) func() {
	l.mu.Lock()
	rl, ok := l.locks[roomCode]
	if !ok {
		rl = &roomLock{}
		l.locks[roomCode] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomCode)
		}
		l.mu.Unlock()
	}
}
