package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogger_NewLoggerWithWriter(t *testing.T) {
	logger := NewLoggerWithWriter(&Config{LogLevel: "debug", AppEnv: "test"}, &bytes.Buffer{})

	if logger.level != LogLevelDebug {
		t.Errorf("expected level debug, got %s", logger.level)
	}
	if logger.service != "lol-pipeline" {
		t.Errorf("expected service lol-pipeline, got %s", logger.service)
	}
	if logger.environment != "test" {
		t.Errorf("expected environment test, got %s", logger.environment)
	}
}

func TestLogger_DefaultsToInfo(t *testing.T) {
	logger := NewLoggerWithWriter(&Config{}, &bytes.Buffer{})
	if logger.level != LogLevelInfo {
		t.Errorf("expected level info, got %s", logger.level)
	}
}

func TestLogger_ShouldLog(t *testing.T) {
	tests := []struct {
		loggerLevel  LogLevel
		messageLevel LogLevel
		shouldLog    bool
	}{
		{LogLevelDebug, LogLevelDebug, true},
		{LogLevelDebug, LogLevelError, true},
		{LogLevelInfo, LogLevelDebug, false},
		{LogLevelInfo, LogLevelWarn, true},
		{LogLevelWarn, LogLevelInfo, false},
		{LogLevelWarn, LogLevelError, true},
		{LogLevelError, LogLevelWarn, false},
		{LogLevelError, LogLevelError, true},
	}

	for _, tt := range tests {
		logger := &Logger{level: tt.loggerLevel}
		if got := logger.shouldLog(tt.messageLevel); got != tt.shouldLog {
			t.Errorf("level %s should log %s: expected %v, got %v",
				tt.loggerLevel, tt.messageLevel, tt.shouldLog, got)
		}
	}
}

func TestLogger_BuilderFields(t *testing.T) {
	logger, buf := createCapturingLogger()

	logger.Error("stage_failed").
		Component("pipeline").
		Operation("run").
		Run("run-1").
		Stage(StateLoading).
		Attempt(2).
		Rows(0).
		Duration(1500*time.Millisecond).
		Err(newPipelineError(KindPersistence, "commit", errors.New("disk full"))).
		Meta("table", "challenger_stats").
		Log()

	entries := logEntries(t, buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]

	if e.Level != LogLevelError || e.Message != "stage_failed" {
		t.Errorf("unexpected level/message: %s %s", e.Level, e.Message)
	}
	if e.Component != "pipeline" || e.Operation != "run" {
		t.Errorf("unexpected component/operation: %s %s", e.Component, e.Operation)
	}
	if e.RunID != "run-1" || e.Stage != "loading" || e.Attempt != 2 {
		t.Errorf("unexpected run fields: %+v", e)
	}
	if e.Rows == nil || *e.Rows != 0 {
		t.Errorf("expected rows=0 to be serialized, got %v", e.Rows)
	}
	if e.Duration != 1500 {
		t.Errorf("expected duration 1500ms, got %d", e.Duration)
	}
	if e.ErrorCode != string(KindPersistence) {
		t.Errorf("expected error code from kind, got %s", e.ErrorCode)
	}
	if !strings.Contains(e.Error, "disk full") {
		t.Errorf("expected wrapped error text, got %s", e.Error)
	}
	if e.Metadata["table"] != "challenger_stats" || e.Metadata["environment"] != "test" {
		t.Errorf("unexpected metadata: %v", e.Metadata)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLoggerWithWriter(&Config{LogLevel: "warn"}, buf)

	logger.Info("ignored").Log()
	logger.Warn("kept").Log()

	out := buf.String()
	if strings.Contains(out, "ignored") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn entry should be written")
	}
}

func TestNewLogger_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	logger, closer, err := NewLogger(&Config{LogLevel: "info", LogFile: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("file_entry").Component("test").Log()
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var e LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(data), &e); err != nil {
		t.Fatalf("log file is not JSON: %v", err)
	}
	if e.Message != "file_entry" {
		t.Errorf("expected file_entry, got %s", e.Message)
	}
}
