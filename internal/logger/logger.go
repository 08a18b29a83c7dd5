package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	Level  string `mapstructure:"level"`  // debug / info / warn / error
	Format string `mapstructure:"format"` // console / json
}

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	root  atomic.Pointer[zap.Logger]
)

func init() {
	root.Store(build(Config{Format: "console"}))
}

func build(cfg Config) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.AddSync(os.Stderr)))
}

// Init 根据配置重建全局 logger
func Init(cfg Config) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)
	root.Store(build(cfg))
}

// SetDebug 设置是否开启调试模式
func SetDebug(debug bool) {
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	} else if level.Level() == zapcore.DebugLevel {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// L 返回全局结构化 logger
func L() *zap.Logger {
	return root.Load()
}

// Named 返回带 component 字段的子 logger
func Named(component string) *zap.Logger {
	return L().With(zap.String("component", component))
}

func sugar() *zap.SugaredLogger {
	return L().WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Info 打印信息日志
func Info(format string, v ...interface{}) {
	sugar().Infof(format, v...)
}

// Debug 打印调试日志
func Debug(format string, v ...interface{}) {
	sugar().Debugf(format, v...)
}

// Error 打印错误日志
func Error(format string, v ...interface{}) {
	sugar().Errorf(format, v...)
}

// Fatal 打印错误日志并退出
func Fatal(format string, v ...interface{}) {
	sugar().Fatalf(format, v...)
}

// Sync 刷新缓冲，进程退出前调用
func Sync() {
	_ = L().Sync()
}
