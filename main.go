package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/api/http"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/api/http/websocket"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/auth"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/config"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/logger"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/service/game"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/state"
	"github.com/GDG-OnCampus-JSS/CrewOrCrook/internal/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newStore(ctx context.Context, cfg *config.AppConfig) (store.SessionStore, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		rs := store.NewRedisStore(store.RedisOptions{
			Addr:        cfg.Store.Redis.Addr,
			Password:    cfg.Store.Redis.Password,
			DB:          cfg.Store.Redis.DB,
			MaxIdle:     cfg.Store.Redis.MaxIdle,
			MaxActive:   cfg.Store.Redis.MaxActive,
			IdleTimeout: cfg.Store.Redis.IdleTimeout,
		})

		if err := rs.Ping(ctx); err != nil {
			return nil, multierr.Append(err, rs.Close())
		}

		return rs, nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Store.Driver)
	}
}

func main() {
	// 加载配置
	cfg := config.InitConfig()

	// 初始化日志器
	logger.InitLogger(cfg.LogLevel)
	defer zap.L().Sync()

	// 配置文件变化时只热更新日志级别，其余参数需要重启
	config.Watch(func(c *config.AppConfig) {
		if logger.SetLevel(c.LogLevel) {
			zap.L().Info("日志级别已更新", zap.String("level", c.LogLevel))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 组装会话存储
	sessionStore, err := newStore(ctx, cfg)
	if err != nil {
		zap.L().Fatal("初始化会话存储失败", zap.Error(err))
	}

	codec, err := store.CodecByName(cfg.Store.Codec)
	if err != nil {
		zap.L().Fatal("初始化编解码器失败", zap.Error(err))
	}

	engine := game.NewEngine(sessionStore, codec, game.Rules{
		KillRange:       cfg.Game.KillRange,
		ReportRange:     cfg.Game.ReportRange,
		KillCooldown:    cfg.Game.KillCooldown,
		MeetingDuration: cfg.Game.MeetingDuration,
		TotalTasks:      cfg.Game.TotalTasks,
		ChatCapacity:    cfg.Game.ChatCapacity,
		ChatMaxLength:   cfg.Game.ChatMaxLength,
		MaxAttempts:     cfg.Game.MaxAttempts,
	})

	roomSvc := service.NewRoomService(service.RoomOptions{
		DefaultMaxPlayers: cfg.Room.DefaultMaxPlayers,
		MaxPlayersLimit:   cfg.Room.MaxPlayersLimit,
		CleanupInterval:   cfg.Room.CleanupInterval,
		FinishedRetention: cfg.Room.FinishedRetention,
		IdleTimeout:       cfg.Room.IdleTimeout,
	})

	hub := websocket.NewHub()

	gameSvc := service.NewSessionService(engine, roomSvc, hub, service.SessionOptions{
		MinPlayers:    cfg.Game.MinPlayers,
		SweepInterval: cfg.Game.SweepInterval,
		SweepWorkers:  cfg.Game.SweepWorkers,
	})

	issuer, err := auth.NewIssuer(auth.Options{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	if err != nil {
		zap.L().Fatal("初始化令牌签发器失败", zap.Error(err))
	}

	// 组装应用状态
	appState := state.NewAppState(cfg, issuer, roomSvc, gameSvc)

	// 会议超时扫描
	go gameSvc.RunSweep(ctx)

	// 启动服务器
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- http.RunServer(appState, hub)
	}()

	select {
	case err = <-serveErr:
		zap.L().Error("服务器退出", zap.Error(err))
	case <-ctx.Done():
		zap.L().Info("收到退出信号")
	}

	roomSvc.Close()

	if err := sessionStore.Close(); err != nil {
		zap.L().Error("关闭会话存储失败", zap.Error(err))
	}
}
