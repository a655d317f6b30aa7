package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("session state not found")
	ErrVersionConflict = errors.New("session state version moved")
)

// AnyVersion 表示无条件写入，用于初始化会话时覆盖旧状态
const AnyVersion int64 = -1

// SessionStore 是会话状态的存储适配器，按房间号存取序列化后的文档
// 只要求单键原子性，不要求多键事务
type SessionStore interface {
	// Load 返回文档和当前版本号，不存在时返回 ErrNotFound
	Load(ctx context.Context, roomCode string) ([]byte, int64, error)
	// Save 在版本号等于 expect 时写入并返回新版本号，否则返回 ErrVersionConflict
	// expect 为 AnyVersion 时无条件写入
	Save(ctx context.Context, roomCode string, doc []byte, expect int64) (int64, error)
	Delete(ctx context.Context, roomCode string) error
	// ActiveCodes 返回当前存在会话状态的所有房间号
	ActiveCodes(ctx context.Context) ([]string, error)
	Close() error
}

func sessionKey(roomCode string) string {
	return "game:" + roomCode
}

const activeKey = "game:active"
