// Package logging provides the structured, asynchronous leveled logger used
// throughout the debugger. Adapted from the teacher's pkg/logging/logger.go:
// same async-buffer-plus-rotating-file-writer shape, with RequestID
// generalized to CorrelationID so a single debug session's log lines (one
// launch through its matching disconnect) can be grepped together.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a log entry.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Format selects the wire shape of emitted log lines.
type Format int

const (
	TextFormat Format = iota
	JSONFormat
)

// Entry is one emitted log line with all metadata.
type Entry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         string                 `json:"level"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
	Caller        string                 `json:"caller,omitempty"`
	StackTrace    string                 `json:"stack_trace,omitempty"`
}

// Config configures a Logger.
type Config struct {
	MinLevel          Level
	Format            Format
	IncludeCaller     bool
	IncludeStackTrace bool
	BufferSize        int
	Outputs           []io.Writer
	MaxFileSize       int64
	MaxBackups        int
	FilePath          string
}

// Logger is the asynchronous, buffered logger. One process-wide instance is
// typically created at startup and handed correlation-scoped children via
// WithCorrelationID for each debug session.
type Logger struct {
	config     Config
	buffer     chan *Entry
	wg         sync.WaitGroup
	mu         sync.Mutex
	stopped    bool
	fileWriter *rotatingFileWriter
	syncCh     chan chan struct{}
}

type rotatingFileWriter struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	maxSize     int64
	maxBackups  int
	currentSize int64
}

// New creates a Logger from config, starting its async drain goroutine.
func New(config Config) (*Logger, error) {
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if len(config.Outputs) == 0 {
		config.Outputs = []io.Writer{os.Stderr}
	}

	l := &Logger{
		config: config,
		buffer: make(chan *Entry, config.BufferSize),
		syncCh: make(chan chan struct{}, 1),
	}

	if config.FilePath != "" {
		fw, err := newRotatingFileWriter(config.FilePath, config.MaxFileSize, config.MaxBackups)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.fileWriter = fw
		l.config.Outputs = append(l.config.Outputs, fw)
	}

	l.wg.Add(1)
	go l.processEntries()
	return l, nil
}

func newRotatingFileWriter(path string, maxSize int64, maxBackups int) (*rotatingFileWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("logging: stat log file: %w", err)
	}
	return &rotatingFileWriter{file: file, path: path, maxSize: maxSize, maxBackups: maxBackups, currentSize: info.Size()}, nil
}

func (w *rotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maxSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

func (w *rotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	for i := w.maxBackups - 1; i > 0; i-- {
		oldPath := fmt.Sprintf("%s.%d", w.path, i)
		newPath := fmt.Sprintf("%s.%d", w.path, i+1)
		if _, err := os.Stat(oldPath); err == nil {
			os.Rename(oldPath, newPath)
		}
	}
	if err := os.Rename(w.path, fmt.Sprintf("%s.1", w.path)); err != nil {
		return err
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = file
	w.currentSize = 0
	return nil
}

func (w *rotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (l *Logger) processEntries() {
	defer l.wg.Done()
	for {
		select {
		case entry, ok := <-l.buffer:
			if !ok {
				select {
				case done := <-l.syncCh:
					close(done)
				default:
				}
				return
			}
			l.writeEntry(entry)
		case done := <-l.syncCh:
			draining := true
			for draining {
				select {
				case entry := <-l.buffer:
					l.writeEntry(entry)
				default:
					draining = false
				}
			}
			close(done)
		}
	}
}

func (l *Logger) writeEntry(entry *Entry) {
	var output string
	if l.config.Format == JSONFormat {
		b, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: marshal entry: %v\n", err)
			return
		}
		output = string(b) + "\n"
	} else {
		output = l.formatText(entry)
	}
	for _, w := range l.config.Outputs {
		if _, err := w.Write([]byte(output)); err != nil {
			fmt.Fprintf(os.Stderr, "logging: write entry: %v\n", err)
		}
	}
}

func (l *Logger) formatText(entry *Entry) string {
	ts := entry.Timestamp.Format("2006-01-02 15:04:05.000")
	parts := []string{fmt.Sprintf("[%s]", ts), fmt.Sprintf("[%s]", entry.Level)}
	if entry.CorrelationID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", entry.CorrelationID))
	}
	if entry.Caller != "" {
		parts = append(parts, fmt.Sprintf("[%s]", entry.Caller))
	}
	parts = append(parts, entry.Message)
	if len(entry.Fields) > 0 {
		fieldsStr := ""
		for k, v := range entry.Fields {
			if fieldsStr != "" {
				fieldsStr += ", "
			}
			fieldsStr += fmt.Sprintf("%s=%v", k, v)
		}
		parts = append(parts, fmt.Sprintf("{%s}", fieldsStr))
	}
	result := ""
	for i, p := range parts {
		if i > 0 {
			result += " "
		}
		result += p
	}
	if entry.StackTrace != "" {
		result += "\n" + entry.StackTrace
	}
	return result + "\n"
}

func (l *Logger) log(level Level, msg string, fields map[string]interface{}, correlationID string) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if level < l.config.MinLevel {
		return
	}

	entry := &Entry{Timestamp: time.Now(), Level: level.String(), Message: msg, CorrelationID: correlationID, Fields: fields}
	if l.config.IncludeCaller {
		_, file, line, ok := runtime.Caller(2)
		if ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}
	if l.config.IncludeStackTrace && (level == Error || level == Fatal) {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		entry.StackTrace = string(buf[:n])
	}

	select {
	case l.buffer <- entry:
	default:
		l.writeEntry(entry)
	}

	if level == Fatal {
		l.Close()
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string)                                      { l.log(Debug, msg, nil, "") }
func (l *Logger) DebugFields(msg string, f map[string]interface{})      { l.log(Debug, msg, f, "") }
func (l *Logger) Info(msg string)                                       { l.log(Info, msg, nil, "") }
func (l *Logger) InfoFields(msg string, f map[string]interface{})       { l.log(Info, msg, f, "") }
func (l *Logger) Warn(msg string)                                       { l.log(Warn, msg, nil, "") }
func (l *Logger) WarnFields(msg string, f map[string]interface{})       { l.log(Warn, msg, f, "") }
func (l *Logger) Error(msg string)                                      { l.log(Error, msg, nil, "") }
func (l *Logger) ErrorFields(msg string, f map[string]interface{})      { l.log(Error, msg, f, "") }
func (l *Logger) Fatal(msg string)                                      { l.log(Fatal, msg, nil, "") }

// Sync flushes all buffered entries and blocks until they've been written.
// Test code uses this to observe logs deterministically.
func (l *Logger) Sync() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	done := make(chan struct{})
	l.syncCh <- done
	<-done
}

// Close stops the drain goroutine and closes any file output.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.buffer)
	l.wg.Wait()
	if l.fileWriter != nil {
		return l.fileWriter.Close()
	}
	return nil
}

// WithCorrelationID scopes a child logger to one debug session, so every
// line it emits carries the session's correlation id.
func (l *Logger) WithCorrelationID(id string) *Scoped {
	return &Scoped{logger: l, correlationID: id, fields: make(map[string]interface{})}
}

// NewCorrelationID mints a fresh session correlation id.
func NewCorrelationID() string { return uuid.New().String() }

// Scoped is a Logger bound to one correlation id and a base field set.
type Scoped struct {
	logger        *Logger
	correlationID string
	fields        map[string]interface{}
	mu            sync.Mutex
}

func (s *Scoped) WithField(key string, value interface{}) *Scoped {
	s.mu.Lock()
	defer s.mu.Unlock()
	nf := make(map[string]interface{}, len(s.fields)+1)
	for k, v := range s.fields {
		nf[k] = v
	}
	nf[key] = value
	return &Scoped{logger: s.logger, correlationID: s.correlationID, fields: nf}
}

func (s *Scoped) merge(extra map[string]interface{}) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if extra == nil {
		return s.fields
	}
	merged := make(map[string]interface{}, len(s.fields)+len(extra))
	for k, v := range s.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (s *Scoped) Debug(msg string)                                 { s.logger.log(Debug, msg, s.fields, s.correlationID) }
func (s *Scoped) DebugFields(msg string, f map[string]interface{}) { s.logger.log(Debug, msg, s.merge(f), s.correlationID) }
func (s *Scoped) Info(msg string)                                  { s.logger.log(Info, msg, s.fields, s.correlationID) }
func (s *Scoped) InfoFields(msg string, f map[string]interface{})  { s.logger.log(Info, msg, s.merge(f), s.correlationID) }
func (s *Scoped) Warn(msg string)                                  { s.logger.log(Warn, msg, s.fields, s.correlationID) }
func (s *Scoped) WarnFields(msg string, f map[string]interface{})  { s.logger.log(Warn, msg, s.merge(f), s.correlationID) }
func (s *Scoped) Error(msg string)                                 { s.logger.log(Error, msg, s.fields, s.correlationID) }
func (s *Scoped) ErrorFields(msg string, f map[string]interface{}) { s.logger.log(Error, msg, s.merge(f), s.correlationID) }

var (
	defaultLogger   *Logger
	defaultLoggerMu sync.Mutex
)

// InitDefault installs the process-wide default logger.
func InitDefault(config Config) error {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	if defaultLogger != nil {
		defaultLogger.Close()
	}
	l, err := New(config)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// Default returns the process-wide default logger, lazily creating a
// stderr/text one at Info level if InitDefault was never called.
func Default() *Logger {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	if defaultLogger == nil {
		defaultLogger, _ = New(Config{MinLevel: Info, Format: TextFormat})
	}
	return defaultLogger
}
