package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"blobarena/server/internal/config"
)

type bufferWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bufferWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferWriter) Sync() error { return nil }

func (b *bufferWriter) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLoggerEmitsStructuredFields(t *testing.T) {
	sink := &bufferWriter{}
	logger := &Logger{level: InfoLevel, writer: sink, fields: map[string]any{"service": "arena"}}

	logger.Debug("hidden")
	logger.With(String("component", "arena")).Warn("store call failed",
		Int("rows", 3),
		Duration("timeout", 5*time.Second),
		Error(errors.New("connection refused")),
	)

	entries := sink.lines(t)
	if len(entries) != 1 {
		t.Fatalf("expected debug to be filtered, got %d entries", len(entries))
	}
	entry := entries[0]
	if entry["level"] != "warn" || entry["message"] != "store call failed" || entry["service"] != "arena" {
		t.Fatalf("unexpected envelope %v", entry)
	}
	if entry["component"] != "arena" || entry["rows"] != float64(3) || entry["timeout"] != "5s" {
		t.Fatalf("unexpected fields %v", entry)
	}
	if entry["error"] != "connection refused" {
		t.Fatalf("expected error message to be preserved, got %v", entry["error"])
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := parseLevel("verbose"); err == nil {
		t.Fatal("expected unknown level to be rejected")
	}
	level, err := parseLevel("")
	if err != nil || level != InfoLevel {
		t.Fatalf("expected empty level to default to info, got %v %v", level, err)
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "arena.log")
	logger, err := New(config.LoggingConfig{Level: "debug", Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("arena started", String("addr", ":3000"))
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"message":"arena started"`) || !strings.Contains(string(data), `"service":"arena"`) {
		t.Fatalf("unexpected log contents %s", data)
	}
	if _, err := New(config.LoggingConfig{Level: "info", Path: path, MaxSizeMB: 0}); err == nil || !strings.Contains(err.Error(), "ARENA_LOG_MAX_SIZE_MB") {
		t.Fatalf("expected size validation error, got %v", err)
	}
}

func TestHTTPTraceMiddlewarePropagatesID(t *testing.T) {
	var seen string
	handler := HTTPTraceMiddleware(NewTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		if LoggerFromContext(r.Context()) == nil {
			t.Fatal("expected request logger in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(TraceIDHeader, "abc123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "abc123" || rr.Header().Get(TraceIDHeader) != "abc123" {
		t.Fatalf("expected incoming trace id to be reused, got ctx=%q header=%q", seen, rr.Header().Get(TraceIDHeader))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if generated := rr.Header().Get(TraceIDHeader); len(generated) != 32 {
		t.Fatalf("expected generated 32 character trace id, got %q", generated)
	}
}
