package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wfunc/ps2000-control/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	mu     sync.RWMutex

	// 全局级别，支持热更新
	atomicLevel = zap.NewAtomicLevel()

	// 模块日志器
	moduleLoggers = map[string]*zap.Logger{}
)

// Init 初始化日志系统
func Init(cfg *config.LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	atomicLevel.SetLevel(parseLevel(cfg.Level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core
	var sinks []zapcore.WriteSyncer

	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	}

	if cfg.Output == "file" || cfg.Output == "both" {
		logDir := cfg.File.Path
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}

		// 文件写入器（支持日志轮转）
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, cfg.File.Filename),
			MaxSize:    cfg.File.MaxSize,    // MB
			MaxAge:     cfg.File.MaxAge,     // days
			MaxBackups: cfg.File.MaxBackups, // 保留文件数
			Compress:   cfg.File.Compress,
		}))

		// 单独的错误日志文件
		errorWriter := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "error.log"),
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxAge,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(errorWriter), zapcore.ErrorLevel))
	}

	sink := zapcore.NewMultiWriteSyncer(sinks...)
	cores = append(cores, zapcore.NewCore(encoder, sink, atomicLevel))

	logger = zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	// 模块日志器：共享输出，独立级别
	moduleLoggers = map[string]*zap.Logger{}
	for module, levelStr := range cfg.Modules {
		moduleLoggers[module] = zap.New(
			zapcore.NewCore(encoder, sink, parseLevel(levelStr)),
			zap.AddCaller(),
		).Named(module)
	}

	return nil
}

// parseLevel 解析日志级别
func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger 获取日志器
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		// 未初始化时退回到默认配置
		defaultLogger, _ := zap.NewProduction()
		return defaultLogger
	}
	return logger
}

// WithModule 创建带有模块名的日志器
func WithModule(module string) *zap.Logger {
	mu.RLock()
	moduleLogger, ok := moduleLoggers[module]
	mu.RUnlock()
	if ok {
		return moduleLogger
	}
	return GetLogger().Named(module)
}

// SetLevel 动态设置全局日志级别
func SetLevel(levelStr string) {
	atomicLevel.SetLevel(parseLevel(levelStr))
}

// Level 当前全局日志级别
func Level() zapcore.Level {
	return atomicLevel.Level()
}

// Sync 同步日志缓冲区
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()

	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// Info 输出信息日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Warn 输出警告日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

// Error 输出错误日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// LogSerialCommand 记录串口命令
func LogSerialCommand(log *zap.Logger, port string, cmd []byte, err error) {
	if err != nil {
		log.Warn("serial_command_failed",
			zap.String("port", port),
			zap.String("command", fmt.Sprintf("% X", cmd)),
			zap.Error(err))
		return
	}
	log.Debug("serial_command",
		zap.String("port", port),
		zap.String("command", fmt.Sprintf("% X", cmd)))
}

// LogWebSocketMessage 记录WebSocket消息
func LogWebSocketMessage(direction string, signal string, payload interface{}) {
	WithModule("websocket").Debug("ws_message",
		zap.String("direction", direction), // "send" or "receive"
		zap.String("signal", signal),
		zap.Any("payload", payload),
	)
}

// Cleanup 清理日志资源
func Cleanup() {
	if err := Sync(); err != nil {
		fmt.Printf("Failed to sync logger: %v\n", err)
	}
}
