// Package logger implements a non-blocking, batched request logger.
//
// Entries go to a buffered channel and are flushed in batches by a
// background goroutine, so logging never blocks a chat stream. When the
// channel is full (> 10 000 entries) new entries are dropped and counted in
// DroppedLogs. Every batch is written to the structured log and to any
// extra sinks (e.g. ClickHouse).
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// RequestLog describes one handled chat or agent request.
type RequestLog struct {
	ID        uuid.UUID
	RequestID string
	UserID    string
	Route     string
	Provider  string
	Model     string
	// Attempts is the number of upstream models tried.
	Attempts  uint8
	Fallback  bool
	LatencyMs uint32
	Status    uint16
	Error     string
	CreatedAt time.Time
}

// Sink receives flushed batches.
type Sink interface {
	Write(ctx context.Context, batch []RequestLog) error
	Close() error
}

type Logger struct {
	ch        chan RequestLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
	sinks   []Sink
}

func New(ctx context.Context, slogger *slog.Logger, sinks ...Sink) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan RequestLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
		sinks:   sinks,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log enqueues an entry without blocking. Missing IDs and timestamps are
// filled in here.
func (l *Logger) Log(entry RequestLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

// Close drains pending entries, flushes them and closes every sink.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()

	var firstErr error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]RequestLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.write(batch)
		batch = make([]RequestLog, 0, batchSize)
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Logger) write(batch []RequestLog) {
	ctx := context.WithoutCancel(l.baseCtx)

	for _, e := range batch {
		attrs := []slog.Attr{
			slog.String("id", e.ID.String()),
			slog.String("request_id", e.RequestID),
			slog.String("user_id", e.UserID),
			slog.String("route", e.Route),
			slog.String("provider", e.Provider),
			slog.String("model", e.Model),
			slog.Int("attempts", int(e.Attempts)),
			slog.Bool("fallback", e.Fallback),
			slog.Uint64("latency_ms", uint64(e.LatencyMs)),
			slog.Int("status", int(e.Status)),
			slog.Time("created_at", e.CreatedAt),
		}
		if e.Error != "" {
			attrs = append(attrs, slog.String("error", e.Error))
		}
		l.log.LogAttrs(ctx, slog.LevelInfo, "request", attrs...)
	}

	for _, s := range l.sinks {
		if err := s.Write(ctx, batch); err != nil {
			l.log.WarnContext(ctx, "request_log_sink_error",
				slog.Int("batch", len(batch)),
				slog.String("error", err.Error()),
			)
		}
	}
}
