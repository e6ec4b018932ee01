package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var logrusLevels = map[Level]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Options struct {
	Level    Level
	Console  io.Writer
	FilePath string
	// Format is "text" (default) or "json".
	Format string
	// MaxSizeMB caps the log file before it is rotated. Zero means 100.
	MaxSizeMB  int
	MaxBackups int
}

type Logger struct {
	mu      sync.Mutex
	level   Level
	base    *logrus.Logger
	console io.Writer
	file    *lumberjack.Logger
}

func ParseLevel(value string) (Level, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return LevelInfo, nil
	}
	level, ok := levelNames[value]
	if !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
	return level, nil
}

func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{console}
	var rotator *lumberjack.Logger
	if filePath := strings.TrimSpace(opts.FilePath); filePath != "" {
		if dir := filepath.Dir(filePath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating log directory: %w", err)
			}
		}
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		rotator = &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		writers = append(writers, rotator)
	}

	base := logrus.New()
	base.SetOutput(io.MultiWriter(writers...))
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatText:
		base.SetFormatter(&logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	case FormatJSON:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	base.SetLevel(logrusLevels[opts.Level])

	return &Logger{
		level:   opts.Level,
		base:    base,
		console: console,
		file:    rotator,
	}, nil
}

// Discard returns a logger that drops everything. It is handy for tests and
// library callers that pass no logger.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{level: LevelError, base: base, console: io.Discard}
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) ConsoleWriter() io.Writer {
	return l.console
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.base.SetLevel(logrusLevels[level])
	l.mu.Unlock()
}

func (l *Logger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// WithFields returns a structured entry sharing this logger's outputs.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.base.WithFields(logrus.Fields(fields))
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.base.Logf(logrusLevels[level], format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

type writerAdapter struct {
	logger *Logger
	level  Level
}

func (w writerAdapter) Write(p []byte) (int, error) {
	if len(p) == 0 || w.logger == nil {
		return len(p), nil
	}
	text := strings.ReplaceAll(string(p), "\r", "")
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		w.logger.logf(w.level, "%s", trimmed)
	}
	return len(p), nil
}

// Writer adapts the logger to an io.Writer, logging one entry per line.
func (l *Logger) Writer(level Level) io.Writer {
	return writerAdapter{logger: l, level: level}
}
