package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例，Init 之前为 nil，辅助函数回退到 logrus 标准 logger
	Logger *logrus.Logger

	currentLogFile string
	logMu          sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（为空则只输出到控制台）
	MaxSize    int    // 单个文件最大大小（MB）
	MaxBackups int
	MaxAge     int // 保留天数
	Compress   bool
	JSON       bool
}

func formatter(json bool) logrus.Formatter {
	if json {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05.000",
	}
}

// Init 初始化全局日志，可重复调用以重新配置
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(formatter(config.JSON))

	writers := []io.Writer{os.Stdout}
	currentLogFile = ""
	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
		currentLogFile = config.OutputFile
	}

	out := io.MultiWriter(writers...)
	logger.SetOutput(out)

	// 第三方库通过 logrus 标准 logger 输出的日志也写入同一文件
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter(config.JSON))

	Logger = logger
	return nil
}

func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/gocopy.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})
}

func base() *logrus.Logger {
	if Logger != nil {
		return Logger
	}
	return logrus.StandardLogger()
}

func Debugf(format string, args ...interface{}) { base().Debugf(format, args...) }
func Info(args ...interface{})                  { base().Info(args...) }
func Infof(format string, args ...interface{})  { base().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base().Errorf(format, args...) }

func WithField(key string, value interface{}) *logrus.Entry {
	return base().WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return base().WithFields(fields)
}

// Component 返回带 component 字段的日志条目
func Component(name string) *logrus.Entry {
	return base().WithField("component", name)
}

func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
