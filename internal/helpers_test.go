package internal

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func createTestLogger() *Logger {
	return NewLoggerWithWriter(&Config{LogLevel: "debug", AppEnv: "test"}, io.Discard)
}

// syncBuffer lets tests read log output written from other goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func createCapturingLogger() (*Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return NewLoggerWithWriter(&Config{LogLevel: "debug", AppEnv: "test"}, buf), buf
}

// logEntries decodes every JSON line written to buf.
func logEntries(t *testing.T, buf *syncBuffer) []LogEntry {
	t.Helper()
	var out []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func findLog(entries []LogEntry, message string) (LogEntry, bool) {
	for _, e := range entries {
		if e.Message == message {
			return e, true
		}
	}
	return LogEntry{}, false
}

func createTestConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		RiotAPIKey:        "RGAPI-test",
		RiotRegion:        "KR",
		LeaderboardURL:    DefaultLeaderboardURL,
		RequestTimeout:    2 * time.Second,
		MaxRetries:        3,
		BackoffFactor:     2,
		KNNNeighbors:      2,
		RawDataPath:       filepath.Join(dir, "raw", "challenger_raw.json"),
		ProcessedDataPath: filepath.Join(dir, "processed", "cleaned_data.csv"),
		StoreDriver:       "sqlite",
		StoreDSN:          filepath.Join(dir, "lol_data.db"),
		StoreStrategy:     StrategyReplace,
		TargetTable:       DefaultTargetTable,
		AppEnv:            "test",
		LogLevel:          "debug",
		ScheduleInterval:  time.Minute,
	}
}

func rawEntry(kv ...interface{}) RawEntry {
	e := RawEntry{}
	for i := 0; i+1 < len(kv); i += 2 {
		e[kv[i].(string)] = kv[i+1]
	}
	return e
}
