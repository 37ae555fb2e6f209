package log

import (
	"os"
	"time"

	"go-canal/pkg/config"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *zap.Logger

func init() {
	Log = newLogger(zapcore.InfoLevel, nil)
}

// Init 根据配置重建全局 logger，配置了文件时同时写入滚动文件
func Init(cfg config.LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Annotatef(err, "log level %q", cfg.Level)
	}
	var file zapcore.WriteSyncer
	if cfg.File != "" {
		file = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
			LocalTime:  true,
		})
	}
	Log = newLogger(level, file)
	return nil
}

func newLogger(level zapcore.Level, file zapcore.WriteSyncer) *zap.Logger {
	encoderCfg := zapcore.EncoderConfig{
		TimeKey:       "time",  // 时间字段名
		LevelKey:      "level", // 日志等级字段名
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller:  zapcore.ShortCallerEncoder,       // 文件:行号
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05"))
		},
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(os.Stdout),
		level,
	)
	if file != nil {
		// 文件里不要颜色控制符
		fileCfg := encoderCfg
		fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), file, level))
	}
	return zap.New(core, zap.AddCaller())
}

// Sync flushes buffered entries; stdout sync errors are ignored.
func Sync() {
	_ = Log.Sync()
}
