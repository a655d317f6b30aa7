package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 全局日志级别，配置热更新时直接修改
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

func parseLevel(logLevel string) zapcore.Level {
	switch logLevel {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func InitLogger(logLevel string) {
	cfg := zap.NewDevelopmentConfig()

	level.SetLevel(parseLevel(logLevel))
	cfg.Level = level

	lgr, err := cfg.Build()
	if err != nil {
		panic(fmt.Errorf("构建日志器失败: %w", err))
	}

	zap.ReplaceGlobals(lgr)
}

// SetLevel 修改全局日志级别，返回是否发生了变化
func SetLevel(logLevel string) bool {
	next := parseLevel(logLevel)
	prev := level.Level()

	if prev == next {
		return false
	}

	level.SetLevel(next)

	zap.L().Info(
		"日志级别已更新",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)

	return true
}

func Level() zapcore.Level {
	return level.Level()
}
