package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// 比较并写入：版本号匹配时写入文档、版本号加一并登记到活跃集合
// 返回新版本号，版本不匹配时返回 -1
var casScript = redis.NewScript(2, `
local cur = redis.call('HGET', KEYS[1], 'ver')
if not cur then cur = '0' end
if ARGV[1] ~= '-1' and ARGV[1] ~= cur then
	return -1
end
local nextVer = tonumber(cur) + 1
redis.call('HSET', KEYS[1], 'doc', ARGV[2], 'ver', nextVer)
redis.call('SADD', KEYS[2], ARGV[3])
return nextVer
`)

type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
}

// RedisStore 把会话状态保存在 Redis 哈希中，多个进程共享同一个 Redis 时
// 由版本号比较保证同一房间不会丢失更新
type RedisStore struct {
	pool *redis.Pool
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	pool := &redis.Pool{
		MaxIdle:     opts.MaxIdle,
		MaxActive:   opts.MaxActive,
		IdleTimeout: opts.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				opts.Addr,
				redis.DialPassword(opts.Password),
				redis.DialDatabase(opts.DB),
				redis.DialConnectTimeout(5*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	return &RedisStore{pool: pool}
}

// Ping 用于启动时检查连通性
func (s *RedisStore) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("获取 Redis 连接失败: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return fmt.Errorf("Redis PING 失败: %w", err)
	}

	return nil
}

func (s *RedisStore) Load(ctx context.Context, roomCode string) ([]byte, int64, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("获取 Redis 连接失败: %w", err)
	}
	defer conn.Close()

	values, err := redis.Values(conn.Do("HMGET", sessionKey(roomCode), "doc", "ver"))
	if err != nil {
		return nil, 0, fmt.Errorf("读取会话状态失败: %w", err)
	}

	if len(values) != 2 || values[0] == nil {
		return nil, 0, ErrNotFound
	}

	doc, err := redis.Bytes(values[0], nil)
	if err != nil {
		return nil, 0, fmt.Errorf("解析会话文档失败: %w", err)
	}

	version, err := redis.Int64(values[1], nil)
	if err != nil && !errors.Is(err, redis.ErrNil) {
		return nil, 0, fmt.Errorf("解析会话版本失败: %w", err)
	}

	return doc, version, nil
}

func (s *RedisStore) Save(ctx context.Context, roomCode string, doc []byte, expect int64) (int64, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取 Redis 连接失败: %w", err)
	}
	defer conn.Close()

	next, err := redis.Int64(casScript.Do(
		conn,
		sessionKey(roomCode),
		activeKey,
		expect,
		doc,
		roomCode,
	))
	if err != nil {
		return 0, fmt.Errorf("写入会话状态失败: %w", err)
	}

	if next < 0 {
		return 0, ErrVersionConflict
	}

	return next, nil
}

func (s *RedisStore) Delete(ctx context.Context, roomCode string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("获取 Redis 连接失败: %w", err)
	}
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return err
	}
	if err := conn.Send("DEL", sessionKey(roomCode)); err != nil {
		return err
	}
	if err := conn.Send("SREM", activeKey, roomCode); err != nil {
		return err
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("删除会话状态失败: %w", err)
	}

	return nil
}

func (s *RedisStore) ActiveCodes(ctx context.Context) ([]string, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 Redis 连接失败: %w", err)
	}
	defer conn.Close()

	codes, err := redis.Strings(conn.Do("SMEMBERS", activeKey))
	if err != nil {
		return nil, fmt.Errorf("读取活跃房间失败: %w", err)
	}

	return codes, nil
}

func (s *RedisStore) Close() error {
	return s.pool.Close()
}
