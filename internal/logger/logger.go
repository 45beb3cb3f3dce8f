package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// L 是全局 logger 实例。
	L *zap.SugaredLogger
	// Z 是全局 zap.Logger 实例，结构化字段较多时使用。
	Z *zap.Logger
)

func init() {
	// 未调用 Init 之前（例如单元测试）默认输出 info 级别到 stderr。
	z, _ := zap.NewProduction()
	Z = z
	L = z.Sugar()
}

// Config 日志配置。
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // console（默认）或 json
	File       string // 日志文件路径，为空则只输出到 stderr
	MaxSize    int    // 单个日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
}

// ParseLevel 将配置中的级别字符串转换为 zapcore.Level。
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("不支持的日志级别: %s", level)
}

// Init 根据配置初始化全局 logger。
// 评测结果写在独立的结果文件里，日志只走 stderr 和可选的滚动文件。
func Init(cfg Config) error {
	zapLevel, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return fmt.Errorf("不支持的日志格式: %s", cfg.Format)
	}

	var output io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		output = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    positiveOr(cfg.MaxSize, 64),
			MaxBackups: positiveOr(cfg.MaxBackups, 3),
			MaxAge:     positiveOr(cfg.MaxAge, 7),
			Compress:   true,
		})
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), zapLevel)
	Z = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	L = Z.Sugar()
	return nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Sync 刷新缓冲区，应在程序退出前调用。
func Sync() {
	if Z != nil {
		_ = Z.Sync()
	}
}

// Debugf 记录格式化调试级别日志。
func Debugf(template string, args ...interface{}) { L.Debugf(template, args...) }

// Info 记录信息级别日志。
func Info(msg string) { L.Info(msg) }

// Infof 记录格式化信息级别日志。
func Infof(template string, args ...interface{}) { L.Infof(template, args...) }

// Warnf 记录格式化警告级别日志。
func Warnf(template string, args ...interface{}) { L.Warnf(template, args...) }

// Errorf 记录格式化错误级别日志。
func Errorf(template string, args ...interface{}) { L.Errorf(template, args...) }
