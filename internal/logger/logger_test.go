package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]RequestLog
	err     error
	closed  bool
}

func (s *recordingSink) Write(_ context.Context, batch []RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestLogger_FlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := &recordingSink{}

	l, err := New(context.Background(), slogger, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < batchSize+5; i++ {
		l.Log(RequestLog{UserID: "u1", Route: "/api/chat/temporary", Provider: "openai", Model: "gpt-4.1", Status: 200})
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := sink.total(); got != batchSize+5 {
		t.Fatalf("sink received %d entries, want %d", got, batchSize+5)
	}
	if !sink.closed {
		t.Error("sink should be closed with the logger")
	}
	for _, b := range sink.batches {
		for _, e := range b {
			if e.ID == uuid.Nil || e.CreatedAt.IsZero() {
				t.Fatalf("ID and CreatedAt must be filled in: %+v", e)
			}
		}
	}
	if !strings.Contains(buf.String(), `"msg":"request"`) {
		t.Errorf("expected structured request log lines, got %q", buf.String())
	}
}

func TestLogger_SinkErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := &recordingSink{err: errors.New("clickhouse down")}

	l, _ := New(context.Background(), slogger, sink)
	l.Log(RequestLog{Route: "/api/agent/ai"})
	_ = l.Close()

	if !strings.Contains(buf.String(), "request_log_sink_error") {
		t.Errorf("expected sink error to be logged, got %q", buf.String())
	}
}

func TestLogger_NilContext(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil context")
	}
}

// fakeBatch embeds driver.Batch so only the methods the sink uses need
// implementations.
type fakeBatch struct {
	driver.Batch
	rows    [][]any
	sent    bool
	aborted bool
}

func (b *fakeBatch) Append(v ...any) error {
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error  { b.sent = true; return nil }
func (b *fakeBatch) Abort() error { b.aborted = true; return nil }

type fakeConn struct {
	execs  []string
	batch  *fakeBatch
	closed bool
}

func (c *fakeConn) Exec(_ context.Context, query string, _ ...any) error {
	c.execs = append(c.execs, query)
	return nil
}

func (c *fakeConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	if query != insertRequestLogs {
		return nil, errors.New("unexpected query " + query)
	}
	c.batch = &fakeBatch{}
	return c.batch, nil
}

func (c *fakeConn) Close() error { c.closed = true; return nil }

func TestClickHouseSink_Write(t *testing.T) {
	conn := &fakeConn{}
	sink, err := newClickHouseSink(context.Background(), conn)
	if err != nil {
		t.Fatalf("newClickHouseSink: %v", err)
	}
	if len(conn.execs) != 1 || !strings.Contains(conn.execs[0], "CREATE TABLE IF NOT EXISTS chat_request_logs") {
		t.Fatalf("expected table bootstrap, got %v", conn.execs)
	}

	batch := []RequestLog{
		{ID: uuid.New(), UserID: "u1", Provider: "groq", Model: "qwen3-32b", Attempts: 2, Fallback: true, Status: 200},
		{ID: uuid.New(), UserID: "u2", Provider: "openai", Model: "gpt-4.1", Attempts: 1, Status: 500, Error: "boom"},
	}
	if err := sink.Write(context.Background(), batch); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !conn.batch.sent {
		t.Fatal("batch was not sent")
	}
	if len(conn.batch.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(conn.batch.rows))
	}
	if got := len(conn.batch.rows[0]); got != 12 {
		t.Fatalf("expected 12 columns per row, got %d", got)
	}
	if conn.batch.rows[1][10] != "boom" {
		t.Errorf("error column = %v", conn.batch.rows[1][10])
	}

	_ = sink.Close()
	if !conn.closed {
		t.Error("Close must close the connection")
	}
}
