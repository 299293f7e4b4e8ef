package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	base      = newBaseLogger()
	logFile   *os.File
	loggers   = make(map[string]*logrus.Entry)
	mu        sync.Mutex
	isSetup   bool
	processed = NewLogger("processor")
)

// Options configures the shared logger
type Options struct {
	Level  string
	Format string
	File   string
	Debug  bool
}

func newBaseLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	levelStr := os.Getenv("INSPECTWATCH_LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// NewLogger returns the cached logger entry for a component
func NewLogger(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	logger := base.WithField("component", component)
	loggers[component] = logger
	return logger
}

// Configure applies level, format and file sink to the shared logger
func Configure(opts Options) error {
	if opts.Format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	levelStr := opts.Level
	if env := os.Getenv("INSPECTWATCH_LOG_LEVEL"); env != "" {
		levelStr = env
	}
	if opts.Debug {
		levelStr = "debug"
	}
	if levelStr != "" {
		level, err := logrus.ParseLevel(strings.ToLower(levelStr))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %v", levelStr, err)
		}
		base.SetLevel(level)
	}

	if opts.File != "" {
		return SetupLogger(opts.File)
	}
	return nil
}

// SetupLogger adds a log file sink next to stdout
func SetupLogger(logFilePath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Check if logger is already set up
	if isSetup {
		return nil
	}

	// Open log file
	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	base.SetOutput(io.MultiWriter(os.Stdout, logFile))
	base.Infof("--- inspectwatch log started at %s ---", time.Now().Format(time.RFC3339))

	isSetup = true
	return nil
}

// CloseLogger closes the log file
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		base.Infof("--- inspectwatch log closed at %s ---", time.Now().Format(time.RFC3339))
		base.SetOutput(os.Stdout)
		logFile.Close()
		logFile = nil
		isSetup = false
	}
}

// SetOutput redirects the shared logger, used by tests
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// LogInfo logs an information message
func LogInfo(format string, args ...interface{}) {
	base.Infof(format, args...)
}

// DebugLog logs a message if debug level is enabled
func DebugLog(format string, args ...interface{}) {
	base.Debugf(format, args...)
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

// LogWarning logs a warning message
func LogWarning(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

// LogImageProcessed logs the outcome of one inspected image
func LogImageProcessed(path string, status string, err error) {
	entry := processed.WithField("path", path)
	if err != nil {
		entry.WithError(err).Error("FAILED")
		return
	}
	entry.WithField("status", status).Info("PROCESSED")
}
