package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory represents different log categories
type LogCategory string

const (
	CategoryQueue    LogCategory = "queue"    // Queue and downloader lifecycle events (JSON)
	CategoryDownload LogCategory = "download" // Per-chapter download progress (JSON)
	CategoryWeb      LogCategory = "web"      // HTTP access log (JSON)
	CategoryError    LogCategory = "error"    // Application errors (JSON)
)

// Categories lists every category in display order
func Categories() []LogCategory {
	return []LogCategory{CategoryQueue, CategoryDownload, CategoryWeb, CategoryError}
}

// ValidCategory checks if a category is known
func ValidCategory(category LogCategory) bool {
	for _, c := range Categories() {
		if c == category {
			return true
		}
	}
	return false
}

// MultiLogger provides categorized logging with one file per category and
// day, e.g. queue-20240131.log. Files are reopened when the day changes.
type MultiLogger struct {
	config MultiLoggerConfig
	level  zapcore.Level

	mu          sync.RWMutex
	loggers     map[LogCategory]*zap.Logger
	files       map[LogCategory]*os.File
	currentDate string
	now         func() time.Time
}

// MultiLoggerConfig contains configuration for multi-output logging
type MultiLoggerConfig struct {
	Level   string      // debug, info, warn, error
	LogsDir string      // Directory for log files
	Console *zap.Logger // Optional, download and error entries are also written here
}

// NewMultiLogger creates a new multi-output logger
func NewMultiLogger(config MultiLoggerConfig) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}

	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	ml := &MultiLogger{
		config:  config,
		level:   level,
		loggers: make(map[LogCategory]*zap.Logger),
		files:   make(map[LogCategory]*os.File),
		now:     time.Now,
	}

	if err := ml.openAll(ml.now().Format("20060102")); err != nil {
		ml.closeFiles()
		return nil, err
	}

	return ml, nil
}

// openAll (re)creates every category logger for date. ml.mu must be held
// or ml not yet shared.
func (ml *MultiLogger) openAll(date string) error {
	for _, category := range Categories() {
		level := ml.level
		if category == CategoryError {
			level = zapcore.ErrorLevel
		}

		logger, file, err := ml.createStructuredLogger(category, date, level)
		if err != nil {
			return fmt.Errorf("failed to create %s logger: %w", category, err)
		}
		ml.loggers[category] = logger
		ml.files[category] = file
	}
	ml.currentDate = date
	return nil
}

// createStructuredLogger creates a JSON-formatted logger for a category
func (ml *MultiLogger) createStructuredLogger(category LogCategory, date string, level zapcore.Level) (*zap.Logger, *os.File, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.LevelKey = "level"
	encoderConfig.CallerKey = ""

	file, err := os.OpenFile(ml.categoryLogPath(category, date), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), level)
	if ml.config.Console != nil && (category == CategoryDownload || category == CategoryError) {
		core = zapcore.NewTee(core, ml.config.Console.Core())
	}

	logger := zap.New(core).With(zap.String("category", string(category)))
	return logger, file, nil
}

func (ml *MultiLogger) categoryLogPath(category LogCategory, date string) string {
	return filepath.Join(ml.config.LogsDir, fmt.Sprintf("%s-%s.log", category, date))
}

// GetLogsDir returns the logs directory path
func (ml *MultiLogger) GetLogsDir() string {
	return ml.config.LogsDir
}

// GetLogger returns the structured logger for a specific category
func (ml *MultiLogger) GetLogger(category LogCategory) *zap.Logger {
	ml.rotateIfNeeded()

	ml.mu.RLock()
	defer ml.mu.RUnlock()

	if logger, ok := ml.loggers[category]; ok {
		return logger
	}
	return ml.loggers[CategoryError]
}

func (ml *MultiLogger) rotateIfNeeded() {
	date := ml.now().Format("20060102")

	ml.mu.RLock()
	current := ml.currentDate
	ml.mu.RUnlock()
	if date == current {
		return
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if date == ml.currentDate {
		return
	}

	old := ml.files
	oldLoggers := ml.loggers
	ml.files = make(map[LogCategory]*os.File)
	ml.loggers = make(map[LogCategory]*zap.Logger)
	if err := ml.openAll(date); err != nil {
		// keep writing to yesterday's files
		ml.closeFiles()
		ml.files = old
		ml.loggers = oldLoggers
		return
	}
	for category, file := range old {
		_ = oldLoggers[category].Sync()
		_ = file.Close()
	}
}

// Queue returns the queue logger
func (ml *MultiLogger) Queue() *zap.Logger {
	return ml.GetLogger(CategoryQueue)
}

// Download returns the download logger
func (ml *MultiLogger) Download() *zap.Logger {
	return ml.GetLogger(CategoryDownload)
}

// Web returns the HTTP access logger
func (ml *MultiLogger) Web() *zap.Logger {
	return ml.GetLogger(CategoryWeb)
}

// Error returns the error logger
func (ml *MultiLogger) Error() *zap.Logger {
	return ml.GetLogger(CategoryError)
}

// General returns the console logger, falling back to the download logger
func (ml *MultiLogger) General() *zap.Logger {
	if ml.config.Console != nil {
		return ml.config.Console
	}
	return ml.Download()
}

// LogAppError logs an application-level error (Go errors, panics)
func (ml *MultiLogger) LogAppError(msg string, fields ...zap.Field) {
	ml.Error().Error(msg, fields...)
}

// LogQueueEvent logs a queue lifecycle event with structured data
func (ml *MultiLogger) LogQueueEvent(event string, fields ...zap.Field) {
	ml.Queue().Info(event, fields...)
}

// Sync flushes all loggers
func (ml *MultiLogger) Sync() error {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	var lastErr error
	for _, logger := range ml.loggers {
		if err := logger.Sync(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close flushes all loggers and closes their files
func (ml *MultiLogger) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var lastErr error
	for _, logger := range ml.loggers {
		if err := logger.Sync(); err != nil {
			lastErr = err
		}
	}
	if err := ml.closeFiles(); err != nil {
		lastErr = err
	}
	return lastErr
}

func (ml *MultiLogger) closeFiles() error {
	var lastErr error
	for category, file := range ml.files {
		if err := file.Close(); err != nil {
			lastErr = err
		}
		delete(ml.files, category)
	}
	return lastErr
}
