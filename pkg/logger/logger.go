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
	// Logger is the shared instance, set up by Init.
	Logger *logrus.Logger
	logMu  sync.Mutex
)

type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // optional, console only when empty
	MaxSize    int    // MB per file
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init sets up the shared logger. Output goes to stderr, plus a rotated file
// when OutputFile is set. The global logrus instance is configured the same
// way so stray logrus.WithField calls end up in the same place.
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	}
	logger.SetFormatter(formatter)

	var writers []io.Writer
	writers = append(writers, os.Stderr)

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
	}

	multiWriter := io.MultiWriter(writers...)
	logger.SetOutput(multiWriter)

	logrus.SetOutput(multiWriter)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)

	Logger = logger
	return nil
}

// InitDefault configures console-only info logging.
func InitDefault() error {
	return Init(Config{Level: "info"})
}

func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField returns an entry carrying one context field.
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.New())
}

// WithFields returns an entry carrying several context fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.New())
}
