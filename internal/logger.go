package internal

import (
	"io"
	"log"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type LogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Message    string                 `json:"message"`
	Service    string                 `json:"service"`
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation,omitempty"`
	Duration   int64                  `json:"duration_ms,omitempty"`
	RunID      string                 `json:"run_id,omitempty"`
	Stage      string                 `json:"stage,omitempty"`
	Attempt    int                    `json:"attempt,omitempty"`
	Rows       *int                   `json:"rows,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Path       string                 `json:"path,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ErrorCode  string                 `json:"error_code,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type Logger struct {
	level       LogLevel
	service     string
	environment string
	logger      *log.Logger
}

// NewLogger writes to stdout and, when cfg.LogFile is set, tees into that
// file as well. The returned closer releases the file.
func NewLogger(cfg *Config) (*Logger, io.Closer, error) {
	writers := []io.Writer{os.Stdout}
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, f)
		closer = f
	}
	return NewLoggerWithWriter(cfg, io.MultiWriter(writers...)), closer, nil
}

func NewLoggerWithWriter(cfg *Config, w io.Writer) *Logger {
	level := LogLevel(cfg.LogLevel)
	if level == "" {
		level = LogLevelInfo
	}

	return &Logger{
		level:       level,
		service:     "lol-pipeline",
		environment: cfg.AppEnv,
		logger:      log.New(w, "", 0),
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (l *Logger) shouldLog(level LogLevel) bool {
	levels := map[LogLevel]int{
		LogLevelDebug: 0,
		LogLevelInfo:  1,
		LogLevelWarn:  2,
		LogLevelError: 3,
	}
	return levels[level] >= levels[l.level]
}

func (l *Logger) log(entry LogEntry) {
	if !l.shouldLog(entry.Level) {
		return
	}

	entry.Timestamp = time.Now().UTC()
	entry.Service = l.service

	if entry.Metadata == nil {
		entry.Metadata = make(map[string]interface{})
	}
	entry.Metadata["environment"] = l.environment

	jsonData, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Failed to marshal log entry: %v", err)
		return
	}

	l.logger.Println(string(jsonData))
}

func (l *Logger) Debug(message string) *LogBuilder {
	return &LogBuilder{logger: l, entry: LogEntry{Level: LogLevelDebug, Message: message}}
}

func (l *Logger) Info(message string) *LogBuilder {
	return &LogBuilder{logger: l, entry: LogEntry{Level: LogLevelInfo, Message: message}}
}

func (l *Logger) Warn(message string) *LogBuilder {
	return &LogBuilder{logger: l, entry: LogEntry{Level: LogLevelWarn, Message: message}}
}

func (l *Logger) Error(message string) *LogBuilder {
	return &LogBuilder{logger: l, entry: LogEntry{Level: LogLevelError, Message: message}}
}

type LogBuilder struct {
	logger *Logger
	entry  LogEntry
}

func (b *LogBuilder) Component(component string) *LogBuilder {
	b.entry.Component = component
	return b
}

func (b *LogBuilder) Operation(operation string) *LogBuilder {
	b.entry.Operation = operation
	return b
}

func (b *LogBuilder) Duration(duration time.Duration) *LogBuilder {
	b.entry.Duration = duration.Milliseconds()
	return b
}

func (b *LogBuilder) Run(runID string) *LogBuilder {
	b.entry.RunID = runID
	return b
}

func (b *LogBuilder) Stage(stage State) *LogBuilder {
	b.entry.Stage = string(stage)
	return b
}

func (b *LogBuilder) Attempt(attempt int) *LogBuilder {
	b.entry.Attempt = attempt
	return b
}

func (b *LogBuilder) Rows(n int) *LogBuilder {
	b.entry.Rows = &n
	return b
}

func (b *LogBuilder) HTTP(method, path string, statusCode int) *LogBuilder {
	b.entry.Method = method
	b.entry.Path = path
	b.entry.StatusCode = statusCode
	return b
}

func (b *LogBuilder) Request(requestID string) *LogBuilder {
	b.entry.RequestID = requestID
	return b
}

func (b *LogBuilder) Err(err error) *LogBuilder {
	if err != nil {
		b.entry.Error = err.Error()
		if kind := KindOf(err); kind != KindUnknown {
			b.entry.ErrorCode = string(kind)
		}
	}
	return b
}

func (b *LogBuilder) ErrorCode(code string) *LogBuilder {
	b.entry.ErrorCode = code
	return b
}

func (b *LogBuilder) Meta(key string, value interface{}) *LogBuilder {
	if b.entry.Metadata == nil {
		b.entry.Metadata = make(map[string]interface{})
	}
	b.entry.Metadata[key] = value
	return b
}

func (b *LogBuilder) Log() {
	b.logger.log(b.entry)
}
