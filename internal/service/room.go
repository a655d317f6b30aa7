package service

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/dto"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"

	"go.uber.org/zap"
)

type RoomOptions struct {
	DefaultMaxPlayers int
	MaxPlayersLimit   int
	CleanupInterval   time.Duration
	// 已结束房间的保留时间
	FinishedRetention time.Duration
	// 没有成员的大厅的保留时间
	IdleTimeout time.Duration
}

func DefaultRoomOptions() RoomOptions {
	return RoomOptions{
		DefaultMaxPlayers: dto.DEFAULT_MAX_PLAYERS,
		MaxPlayersLimit:   50,
		CleanupInterval:   time.Minute,
		FinishedRetention: 10 * time.Minute,
		IdleTimeout:       30 * time.Minute,
	}
}

// RoomService 维护房间与成员关系的持久记录
// 只负责大厅相关的状态，对局中的状态由游戏引擎持有
type RoomService struct {
	state *roomServiceState
	opts  RoomOptions
	now   func() time.Time
}

type roomServiceState struct {
	mu sync.RWMutex

	// 房间号到房间的映射
	rooms map[string]*dto.Room
	// 房间号到成员记录的映射，成员记录以用户 ID 为键
	members map[string]map[string]*dto.Player

	cleanUpDone chan struct{}
	closeOnce   sync.Once
}

func NewRoomService(opts RoomOptions) *RoomService {
	d := DefaultRoomOptions()
	if opts.DefaultMaxPlayers <= 0 {
		opts.DefaultMaxPlayers = d.DefaultMaxPlayers
	}
	if opts.MaxPlayersLimit <= 0 {
		opts.MaxPlayersLimit = d.MaxPlayersLimit
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = d.CleanupInterval
	}
	if opts.FinishedRetention <= 0 {
		opts.FinishedRetention = d.FinishedRetention
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = d.IdleTimeout
	}

	state := &roomServiceState{
		rooms:       make(map[string]*dto.Room),
		members:     make(map[string]map[string]*dto.Player),
		cleanUpDone: make(chan struct{}),
	}

	rs := &RoomService{
		state: state,
		opts:  opts,
		now:   time.Now,
	}

	// 启动一个 goroutine 定期清理过期的房间
	go rs.startCleanupLoop()

	return rs
}

func (rs *RoomService) startCleanupLoop() {
	ticker := time.NewTicker(rs.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rs.state.cleanUpDone:
			return

		case <-ticker.C:
			rs.cleanup()
		}
	}
}

// cleanup 清理一轮失效的房间，返回被清理的房间数
func (rs *RoomService) cleanup() int {
	now := rs.now()

	rs.state.mu.Lock()
	defer rs.state.mu.Unlock()

	removed := 0
	for code, room := range rs.state.rooms {
		if isRoomValid(room, now, rs.opts) {
			continue
		}

		zap.S().Infof("房间 %s 状态失效（%s），开始清理", code, room.Status)

		delete(rs.state.rooms, code)
		delete(rs.state.members, code)
		removed++
	}

	return removed
}

func (rs *RoomService) Close() {
	rs.state.closeOnce.Do(func() {
		close(rs.state.cleanUpDone)
	})
}

// CreateRoom 创建新房间，房主不会自动成为成员，需要再调用 JoinRoom
func (rs *RoomService) CreateRoom(hostID string, maxPlayers int) (dto.Room, error) {
	if hostID == "" {
		return dto.Room{}, ErrInvalidHost
	}

	if maxPlayers == 0 {
		maxPlayers = rs.opts.DefaultMaxPlayers
	}
	if maxPlayers < 1 || maxPlayers > rs.opts.MaxPlayersLimit {
		return dto.Room{}, ErrInvalidCapacity
	}

	now := rs.now().UnixMilli()

	rs.state.mu.Lock()
	defer rs.state.mu.Unlock()

	code := generateRoomCode()
	for {
		if _, exists := rs.state.rooms[code]; !exists {
			break
		}
		code = generateRoomCode()
	}

	room := &dto.Room{
		Code:       code,
		HostID:     hostID,
		MaxPlayers: maxPlayers,
		Status:     dto.STATUS_LOBBY,
		Players:    make([]string, 0, maxPlayers),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	rs.state.rooms[code] = room
	rs.state.members[code] = make(map[string]*dto.Player)

	zap.S().Infof("房间 %s 由 %s 创建", code, hostID)

	return room.Clone(), nil
}

func (rs *RoomService) Lookup(code string) (dto.Room, error) {
	if !ValidRoomCode(code) {
		return dto.Room{}, ErrInvalidRoomCode
	}

	rs.state.mu.RLock()
	defer rs.state.mu.RUnlock()

	room, ok := rs.state.rooms[code]
	if !ok {
		return dto.Room{}, ErrRoomNotFound
	}

	return room.Clone(), nil
}

// JoinRoom 只允许在大厅阶段加入，房主也可以加入自己的房间
func (rs *RoomService) JoinRoom(code, userID string) (dto.Room, dto.Player, error) {
	if !ValidRoomCode(code) {
		return dto.Room{}, dto.Player{}, ErrInvalidRoomCode
	}

	rs.state.mu.Lock()
	defer rs.state.mu.Unlock()

	room, ok := rs.state.rooms[code]
	if !ok {
		return dto.Room{}, dto.Player{}, ErrRoomNotFound
	}

	if room.Status != dto.STATUS_LOBBY {
		return dto.Room{}, dto.Player{}, ErrRoomNotInLobby
	}

	members := rs.state.members[code]
	if _, joined := members[userID]; joined {
		return dto.Room{}, dto.Player{}, ErrAlreadyJoined
	}

	if room.IsFull() {
		return dto.Room{}, dto.Player{}, ErrRoomFull
	}

	now := rs.now().UnixMilli()

	player := &dto.Player{
		RoomCode: code,
		UserID:   userID,
		Role:     dto.ROLE_CREWMATE,
		JoinedAt: now,
	}

	members[userID] = player
	room.Players = append(room.Players, userID)
	room.UpdatedAt = now

	zap.S().Infof("房间 %s 玩家 %s 加入，当前 %d/%d", code, userID, len(room.Players), room.MaxPlayers)

	return room.Clone(), *player, nil
}

func (rs *RoomService) IsMember(code, userID string) bool {
	rs.state.mu.RLock()
	defer rs.state.mu.RUnlock()

	_, ok := rs.state.members[code][userID]

	return ok
}

// IsHost 房间不存在时返回 false
func (rs *RoomService) IsHost(code, userID string) bool {
	rs.state.mu.RLock()
	defer rs.state.mu.RUnlock()

	room, ok := rs.state.rooms[code]

	return ok && room.HostID == userID
}

// BindSocket 记录玩家当前的实时连接，重连时直接覆盖旧连接
func (rs *RoomService) BindSocket(code, userID, socketID string) error {
	rs.state.mu.Lock()
	defer rs.state.mu.Unlock()

	player, ok := rs.state.members[code][userID]
	if !ok {
		return ErrNotMember
	}

	player.SocketID = socketID

	return nil
}

// ClearSocket 只有记录的连接仍是 socketID 时才清除，
// 返回 false 表示玩家已经通过新连接重连
func (rs *RoomService) ClearSocket(code, userID, socketID string) bool {
	rs.state.mu.Lock()
	defer rs.state.mu.Unlock()

	player, ok := rs.state.members[code][userID]
	if !ok || player.SocketID != socketID {
		return false
	}

	player.SocketID = ""

	return true
}

// StartRoom 检查房主与人数，随机指定一名内鬼并把房间切换到 started
// 返回的成员顺序与加入顺序一致
func (rs *RoomService) StartRoom(code, userID string, minPlayers int) ([]game.Member, error) {
	rs.state.mu.Lock()
	defer rs.state.mu.Unlock()

	room, ok := rs.state.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	if room.HostID != userID {
		return nil, ErrNotHost
	}

	if room.Status != dto.STATUS_LOBBY {
		return nil, ErrRoomNotInLobby
	}

	if len(room.Players) < minPlayers {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughPlayers, minPlayers, len(room.Players))
	}

	impostor := room.Players[rand.IntN(len(room.Players))]

	members := make([]game.Member, 0, len(room.Players))
	for _, id := range room.Players {
		player := rs.state.members[code][id]

		player.Role = dto.ROLE_CREWMATE
		if id == impostor {
			player.Role = dto.ROLE_IMPOSTOR
		}

		members = append(members, game.Member{
			UserID: id,
			Role:   game.Role(player.Role),
		})
	}

	room.Status = dto.STATUS_STARTED
	room.UpdatedAt = rs.now().UnixMilli()

	zap.S().Infof("房间 %s 开始游戏，共 %d 名玩家", code, len(members))

	return members, nil
}

// ResetToLobby 在会话初始化失败时回滚房间状态
func (rs *RoomService) ResetToLobby(code string) error {
	rs.state.mu.Lock()
	defer rs.state.mu.Unlock()

	room, ok := rs.state.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}

	for _, player := range rs.state.members[code] {
		player.Role = dto.ROLE_CREWMATE
	}

	room.Status = dto.STATUS_LOBBY
	room.UpdatedAt = rs.now().UnixMilli()

	return nil
}

func (rs *RoomService) FinishRoom(code string) error {
	rs.state.mu.Lock()
	defer rs.state.mu.Unlock()

	room, ok := rs.state.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}

	room.Status = dto.STATUS_FINISHED
	room.UpdatedAt = rs.now().UnixMilli()

	return nil
}

// Members 按加入顺序返回成员记录
func (rs *RoomService) Members(code string) ([]dto.Player, error) {
	rs.state.mu.RLock()
	defer rs.state.mu.RUnlock()

	room, ok := rs.state.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	players := make([]dto.Player, 0, len(room.Players))
	for _, id := range room.Players {
		players = append(players, *rs.state.members[code][id])
	}

	return players, nil
}
