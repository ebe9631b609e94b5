package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"agroscan/internal/config"

	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// logFile is a rotating log file; lumberjack.Logger in production.
type logFile interface {
	io.WriteCloser
	Rotate() error
}

// Logger provides leveled logging (info/warning/error) to rotated files and stdout/stderr.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	files      map[string]logFile
	logDir     string
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	logger := &Logger{
		logDir: config.LogDirectory,
		files:  make(map[string]logFile),
	}

	logger.setupLoggers(os.Stdout, os.Stderr)
	return logger
}

// NewDiscard returns a Logger that writes nowhere. Used by tests and tools.
func NewDiscard() *Logger {
	return &Logger{
		infoLog:    log.New(io.Discard, "", 0),
		warningLog: log.New(io.Discard, "", 0),
		errorLog:   log.New(io.Discard, "", 0),
		files:      make(map[string]logFile),
	}
}

// setupLoggers initializes rotating writers and per-level loggers.
func (l *Logger) setupLoggers(stdout, stderr io.Writer) {
	infoWriter := io.MultiWriter(stdout, l.openLogFile(InfoFile))
	warningWriter := io.MultiWriter(stdout, l.openLogFile(WarningFile))
	errorWriter := io.MultiWriter(stderr, l.openLogFile(ErrorFile))

	l.infoLog = log.New(infoWriter, "ℹ️  INFO    ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warningLog = log.New(warningWriter, "⚠️  WARNING ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLog = log.New(errorWriter, "❌ ERROR   ", log.Ldate|log.Ltime|log.Lshortfile)
}

// openLogFile returns a size-rotated writer for the given file name.
func (l *Logger) openLogFile(name string) io.Writer {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	l.files[name] = w
	return w
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Printf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Printf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Printf(format, v...)
}

// Directory returns the directory the log files live in.
func (l *Logger) Directory() string {
	return l.logDir
}

// CleanLogs starts a fresh, empty log file; the previous content is kept as a rotated backup.
func (l *Logger) CleanLogs(fileName string) {
	l.mu.Lock()
	w, ok := l.files[fileName]
	var err error
	if ok {
		err = w.Rotate()
	}
	l.mu.Unlock()

	if !ok {
		l.Warning("Unknown log file: %s", fileName)
		return
	}
	if err != nil {
		l.Error("Error rotating %s: %v", fileName, err)
		return
	}

	l.Info("File content has been cleared.")
}

// Close closes the underlying log files and reports every failure.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	for name, w := range l.files {
		if cerr := w.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close %s: %w", name, cerr))
		}
	}
	return err
}
