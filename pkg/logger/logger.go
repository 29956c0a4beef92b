// Package logger 全局日志：logrus + lumberjack 文件轮转。
// 进程启动时 Init 一次，各包通过 logrus.WithField("component", ...) 取子 logger。
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 全局日志实例
var Logger *logrus.Logger

// Config 日志配置
type Config struct {
	Level      string // debug / info / warn / error
	OutputFile string // 为空则只输出到控制台
	MaxSize    int    // 单文件最大大小（MB）
	MaxBackups int    // 保留的旧文件数量
	MaxAge     int    // 旧文件保留天数
	Compress   bool   // 是否压缩旧文件
}

// Init 初始化全局日志
func Init(config Config) error {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return err
		}
		fileWriter := &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	} else {
		logger.SetOutput(os.Stdout)
	}

	Logger = logger
	// 包级 logrus.WithField 也走同一配置
	logrus.SetLevel(level)
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	return nil
}

// InitDefault 控制台 info 级别
func InitDefault() error {
	return Init(Config{Level: "info"})
}

func std() *logrus.Logger {
	if Logger == nil {
		_ = InitDefault()
	}
	return Logger
}

func Debug(args ...interface{})                 { std().Debug(args...) }
func Debugf(format string, args ...interface{}) { std().Debugf(format, args...) }
func Info(args ...interface{})                  { std().Info(args...) }
func Infof(format string, args ...interface{})  { std().Infof(format, args...) }
func Warn(args ...interface{})                  { std().Warn(args...) }
func Warnf(format string, args ...interface{})  { std().Warnf(format, args...) }
func Error(args ...interface{})                 { std().Error(args...) }
func Errorf(format string, args ...interface{}) { std().Errorf(format, args...) }

// WithField 返回带字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	return std().WithField(key, value)
}

// WithFields 返回带多个字段的日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	return std().WithFields(fields)
}
