package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ncobase/relay/ctxutil"
	"github.com/ncobase/relay/logging/logger/config"
	"github.com/sirupsen/logrus"
)

// Key constants
const (
	VersionKey   = "version"
	ComponentKey = "component"
	SourceKey    = "source"
	TraceKey     = ctxutil.TraceIDKey
)

// Logger wraps logrus with context-aware helpers.
type Logger struct {
	*logrus.Logger
	version string
	logFile *os.File
	logPath string
	stop    chan struct{}
	mu      sync.Mutex
}

var (
	standardLogger *Logger
	once           sync.Once
)

// StdLogger returns the singleton logger instance
func StdLogger() *Logger {
	once.Do(func() {
		standardLogger = &Logger{
			Logger: logrus.New(),
		}
		standardLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return standardLogger
}

// New configures the standard logger and returns its cleanup function.
func New(c *config.Config) (func(), error) {
	return StdLogger().Init(c)
}

// SetVersion sets the version for logging
func (l *Logger) SetVersion(v string) {
	l.version = v
}

// Init initializes the logger with the given configuration
func (l *Logger) Init(c *config.Config) (func(), error) {
	if c == nil {
		return func() {}, nil
	}

	l.SetLevel(logrus.Level(c.Level))

	switch c.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch c.Output {
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if c.OutputFile == "" {
			return nil, fmt.Errorf("logger output is file but output_file is empty")
		}
		l.logPath = c.OutputFile
		if err := l.setupLogFile(); err != nil {
			return nil, err
		}
		l.stop = make(chan struct{})
		go l.periodicLogRotation(l.stop)
	default:
		l.SetOutput(os.Stdout)
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.stop != nil {
			close(l.stop)
			l.stop = nil
		}
		if l.logFile != nil {
			_ = l.logFile.Close()
			l.logFile = nil
		}
	}, nil
}

func (l *Logger) setupLogFile() error {
	if err := os.MkdirAll(filepath.Dir(l.logPath), 0o755); err != nil {
		return err
	}
	return l.rotateLog()
}

func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			return err
		}
	}

	logFilePath := fmt.Sprintf("%s.%s.log", strings.TrimSuffix(l.logPath, ".log"), time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}

	l.logFile = f
	l.Logger.SetOutput(f)
	return nil
}

func (l *Logger) periodicLogRotation(stop <-chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.rotateLog(); err != nil {
				l.Logger.Errorf("Error rotating log: %v", err)
			}
		}
	}
}

// entryFromContext creates a new log entry with fields from context
func (l *Logger) entryFromContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}

	if ctx != nil {
		if traceID := ctxutil.GetTraceID(ctx); traceID != "" {
			fields[TraceKey] = traceID
		}
		if source := ctxutil.GetSource(ctx); source != "" {
			fields[SourceKey] = source
		}
	}

	if l.version != "" {
		fields[VersionKey] = l.version
	}

	return l.WithFields(fields)
}

func (l *Logger) logf(ctx context.Context, level logrus.Level, format string, args ...any) {
	l.entryFromContext(ctx).Logf(level, format, args...)
}

func (l *Logger) Debugf(ctx context.Context, format string, args ...any) {
	l.logf(ctx, logrus.DebugLevel, format, args...)
}
func (l *Logger) Infof(ctx context.Context, format string, args ...any) {
	l.logf(ctx, logrus.InfoLevel, format, args...)
}
func (l *Logger) Warnf(ctx context.Context, format string, args ...any) {
	l.logf(ctx, logrus.WarnLevel, format, args...)
}
func (l *Logger) Errorf(ctx context.Context, format string, args ...any) {
	l.logf(ctx, logrus.ErrorLevel, format, args...)
}

// SetOutput sets the output destination for the logger
func (l *Logger) SetOutput(out io.Writer) {
	l.Logger.SetOutput(out)
}

// AddHook adds a hook to the logger
func (l *Logger) AddHook(hook logrus.Hook) {
	l.Logger.AddHook(hook)
}

// Package level helpers bound to the standard logger.

func SetVersion(v string) { StdLogger().SetVersion(v) }

// EntryWithFields returns an entry carrying the context fields plus fields.
func EntryWithFields(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	return StdLogger().entryFromContext(ctx).WithFields(fields)
}

// Component returns an entry tagged with the emitting component.
func Component(ctx context.Context, name string) *logrus.Entry {
	return EntryWithFields(ctx, logrus.Fields{ComponentKey: name})
}

func Debugf(ctx context.Context, format string, args ...any) {
	StdLogger().Debugf(ctx, format, args...)
}
func Infof(ctx context.Context, format string, args ...any) {
	StdLogger().Infof(ctx, format, args...)
}
func Warnf(ctx context.Context, format string, args ...any) {
	StdLogger().Warnf(ctx, format, args...)
}
func Errorf(ctx context.Context, format string, args ...any) {
	StdLogger().Errorf(ctx, format, args...)
}

// AddHook adds a hook to the standard logger
func AddHook(hook logrus.Hook) { StdLogger().AddHook(hook) }
