package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type AppConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	Store StoreConfig `mapstructure:"store"`
	Auth  AuthConfig  `mapstructure:"auth"`
	Game  GameConfig  `mapstructure:"game"`
	Room  RoomConfig  `mapstructure:"room"`
	WS    WSConfig    `mapstructure:"ws"`
}

type StoreConfig struct {
	// memory 或 redis
	Driver string `mapstructure:"driver"`
	// json 或 msgpack
	Codec string      `mapstructure:"codec"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxActive   int           `mapstructure:"max_active"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type AuthConfig struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
}

type GameConfig struct {
	KillRange       float64       `mapstructure:"kill_range"`
	ReportRange     float64       `mapstructure:"report_range"`
	KillCooldown    time.Duration `mapstructure:"kill_cooldown"`
	MeetingDuration time.Duration `mapstructure:"meeting_duration"`
	TotalTasks      int           `mapstructure:"total_tasks"`
	ChatCapacity    int           `mapstructure:"chat_capacity"`
	ChatMaxLength   int           `mapstructure:"chat_max_length"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MinPlayers      int           `mapstructure:"min_players"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepWorkers    int           `mapstructure:"sweep_workers"`
}

type RoomConfig struct {
	DefaultMaxPlayers int           `mapstructure:"default_max_players"`
	MaxPlayersLimit   int           `mapstructure:"max_players_limit"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	FinishedRetention time.Duration `mapstructure:"finished_retention"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

type WSConfig struct {
	// 每秒允许的命令数
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

const (
	CONFIG_FILE = "app_config"
	ENV_PREFIX  = "CREW"
)

var (
	mu  sync.Mutex
	cfg *AppConfig
	// 最近一次成功读取配置文件的 viper 实例，用于热更新
	watched *viper.Viper
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.codec", "json")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.max_idle", 8)
	v.SetDefault("store.redis.max_active", 64)
	v.SetDefault("store.redis.idle_timeout", "5m")

	v.SetDefault("auth.access_secret", "")
	v.SetDefault("auth.refresh_secret", "")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "168h")

	v.SetDefault("game.kill_range", 8.0)
	v.SetDefault("game.report_range", 10.0)
	v.SetDefault("game.kill_cooldown", "30s")
	v.SetDefault("game.meeting_duration", "60s")
	v.SetDefault("game.total_tasks", 10)
	v.SetDefault("game.chat_capacity", 50)
	v.SetDefault("game.chat_max_length", 200)
	v.SetDefault("game.max_attempts", 3)
	v.SetDefault("game.min_players", 4)
	v.SetDefault("game.sweep_interval", "5s")
	v.SetDefault("game.sweep_workers", 8)

	v.SetDefault("room.default_max_players", 10)
	v.SetDefault("room.max_players_limit", 50)
	v.SetDefault("room.cleanup_interval", "1m")
	v.SetDefault("room.finished_retention", "10m")
	v.SetDefault("room.idle_timeout", "30m")

	v.SetDefault("ws.rate_limit", 20.0)
	v.SetDefault("ws.rate_burst", 40)
	v.SetDefault("ws.read_limit", 4096)
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.command_timeout", "5s")
}

func newViper(file string) *viper.Viper {
	v := viper.New()

	v.SetConfigFile(file)
	v.SetConfigType("json")

	setDefaults(v)

	// 例如 CREW_GAME_KILL_RANGE 覆盖 game.kill_range
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	return &config, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError

	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Load 读取配置文件，文件不存在时只使用默认值和环境变量
func Load(file string) (*AppConfig, error) {
	v := newViper(file)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if !isNotExist(err) {
			return nil, fmt.Errorf("加载配置失败: %w", err)
		}
		fileFound = false
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	if fileFound {
		watched = v
	} else {
		watched = nil
	}
	mu.Unlock()

	return config, nil
}

// Default 只包含默认值与环境变量
func Default() *AppConfig {
	config, err := decode(newViper(""))
	if err != nil {
		panic(err)
	}

	return config
}

func GetConfig() *AppConfig {
	mu.Lock()
	loaded := cfg
	mu.Unlock()

	if loaded == nil {
		return InitConfig()
	}

	return loaded
}

func InitConfig() *AppConfig {
	config, err := Load(CONFIG_FILE)
	if err != nil {
		panic(err)
	}

	mu.Lock()
	cfg = config
	mu.Unlock()

	return config
}

// Watch 在配置文件变化时重新解析并回调，配置文件不存在时不做任何事
func Watch(onChange func(*AppConfig)) bool {
	mu.Lock()
	v := watched
	mu.Unlock()

	if v == nil {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		config, err := decode(v)
		if err != nil {
			zap.L().Error("重新加载配置失败", zap.String("file", e.Name), zap.Error(err))
			return
		}

		mu.Lock()
		cfg = config
		mu.Unlock()

		zap.L().Info("配置文件已更新", zap.String("file", e.Name))

		onChange(config)
	})
	v.WatchConfig()

	return true
}
