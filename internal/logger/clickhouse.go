package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createRequestLogsTable = `
CREATE TABLE IF NOT EXISTS chat_request_logs (
	id          UUID,
	request_id  String,
	user_id     String,
	route       LowCardinality(String),
	provider    LowCardinality(String),
	model       String,
	attempts    UInt8,
	fallback    Bool,
	latency_ms  UInt32,
	status      UInt16,
	error       String,
	created_at  DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (created_at, user_id)`

const insertRequestLogs = `INSERT INTO chat_request_logs`

// chConn is the part of driver.Conn the sink uses.
type chConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// ClickHouseSink stores request logs in a ClickHouse MergeTree table.
type ClickHouseSink struct {
	conn chConn
}

// NewClickHouseSink connects using a clickhouse:// DSN, verifies the
// connection and makes sure the table exists.
func NewClickHouseSink(ctx context.Context, dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("logger: clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("logger: clickhouse open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logger: clickhouse ping: %w", err)
	}

	return newClickHouseSink(ctx, conn)
}

func newClickHouseSink(ctx context.Context, conn chConn) (*ClickHouseSink, error) {
	if err := conn.Exec(ctx, createRequestLogsTable); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logger: clickhouse create table: %w", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

// Write sends the batch as a single native INSERT.
func (s *ClickHouseSink) Write(ctx context.Context, batch []RequestLog) error {
	b, err := s.conn.PrepareBatch(ctx, insertRequestLogs)
	if err != nil {
		return fmt.Errorf("logger: clickhouse prepare: %w", err)
	}

	for _, e := range batch {
		if err := b.Append(
			e.ID,
			e.RequestID,
			e.UserID,
			e.Route,
			e.Provider,
			e.Model,
			e.Attempts,
			e.Fallback,
			e.LatencyMs,
			e.Status,
			e.Error,
			e.CreatedAt,
		); err != nil {
			_ = b.Abort()
			return fmt.Errorf("logger: clickhouse append: %w", err)
		}
	}

	if err := b.Send(); err != nil {
		return fmt.Errorf("logger: clickhouse send: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
