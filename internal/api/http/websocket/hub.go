package websocket

import (
	"sync"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"

	"go.uber.org/zap"
)

// Client 是一条已认证的实时连接
type Client struct {
	ID       string
	RoomCode string
	UserID   string

	send   chan game.ResponseWrapper
	closed bool
}

func NewClient(roomCode, userID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}

	return &Client{
		ID:       game.GenID(),
		RoomCode: roomCode,
		UserID:   userID,
		send:     make(chan game.ResponseWrapper, buffer),
	}
}

// Outbound 在连接注销后关闭
func (c *Client) Outbound() <-chan game.ResponseWrapper {
	return c.send
}

// Hub 按房间管理连接，实现 service.Notifier
// 同一用户可能同时持有多条连接（例如重连尚未完成时）
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[c.RoomCode]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.RoomCode] = clients
	}

	clients[c] = struct{}{}
}

// Unregister 移除连接并关闭发送通道，重复调用是安全的
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}

	if clients, ok := h.rooms[c.RoomCode]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.RoomCode)
		}
	}

	c.closed = true
	close(c.send)
}

func (h *Hub) Broadcast(roomCode string, resp game.ResponseWrapper) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomCode] {
		deliver(c, resp)
	}
}

func (h *Hub) Unicast(roomCode, userID string, resp game.ResponseWrapper) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomCode] {
		if c.UserID == userID {
			deliver(c, resp)
		}
	}
}

// Send 直接回复某条连接，连接已注销时返回 false
func (h *Hub) Send(c *Client, resp game.ResponseWrapper) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c.closed {
		return false
	}

	return deliver(c, resp)
}

func (h *Hub) RoomSize(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[roomCode])
}

// deliver 不阻塞，缓冲区满时丢弃消息；调用方必须持有读锁
func deliver(c *Client, resp game.ResponseWrapper) bool {
	select {
	case c.send <- resp:
		return true
	default:
		zap.L().Warn(
			"发送缓冲区已满，丢弃消息",
			zap.String("room_code", c.RoomCode),
			zap.String("user_id", c.UserID),
			zap.String("response_type", resp.RespType),
		)
		return false
	}
}
