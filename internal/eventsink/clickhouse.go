// Package eventsink optionally streams block verdicts and end-of-run
// summaries into ClickHouse, for operators who want queryable history
// beyond the forwarded capture file and the status endpoint.
package eventsink

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"dpisieve/internal/flow"
	"dpisieve/internal/ruleset"
)

const createBlockEvents = `
CREATE TABLE IF NOT EXISTS block_events (
    Timestamp DateTime,
    SrcIP     String,
    DstIP     String,
    SrcPort   UInt16,
    DstPort   UInt16,
    Protocol  UInt8,
    App       String,
    Domain    String,
    Reason    String,
    Detail    String
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(Timestamp)
ORDER BY (Timestamp);
`

const createRunSummary = `
CREATE TABLE IF NOT EXISTS run_summary (
    Timestamp   DateTime,
    TotalRead   UInt64,
    Forwarded   UInt64,
    Dropped     UInt64,
    Skipped     UInt64,
    ActiveFlows UInt64,
    Classified  UInt64,
    Blocked     UInt64
) ENGINE = MergeTree()
ORDER BY (Timestamp);
`

// Config names the ClickHouse endpoint to connect to.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// Sink buffers block events until Flush is called (no timer runs), and
// records one row per engine run summary.
type Sink struct {
	conn  driver.Conn
	batch []blockEvent

	flushInterval time.Duration
}

type blockEvent struct {
	at     time.Time
	tuple  flow.Tuple
	app    string
	domain string
	reason ruleset.Reason
}

// Open connects to ClickHouse and ensures both tables exist.
func Open(cfg Config, flushInterval time.Duration) (*Sink, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventsink: opening connection: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("eventsink: ping: %w", err)
	}
	if err := conn.Exec(context.Background(), createBlockEvents); err != nil {
		return nil, fmt.Errorf("eventsink: creating block_events: %w", err)
	}
	if err := conn.Exec(context.Background(), createRunSummary); err != nil {
		return nil, fmt.Errorf("eventsink: creating run_summary: %w", err)
	}
	log.Println("eventsink: connected to clickhouse, tables ready")

	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Sink{conn: conn, flushInterval: flushInterval}, nil
}

// RecordBlock buffers one block verdict for the next flush.
func (s *Sink) RecordBlock(tuple flow.Tuple, app, domain string, reason ruleset.Reason) {
	s.batch = append(s.batch, blockEvent{at: time.Now(), tuple: tuple, app: app, domain: domain, reason: reason})
}

// Flush sends every buffered block event as one batch insert. A caller
// typically calls this on a ticker; it is a no-op with nothing buffered.
func (s *Sink) Flush(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO block_events")
	if err != nil {
		return fmt.Errorf("eventsink: preparing batch: %w", err)
	}
	for _, ev := range s.batch {
		srcIP, dstIP := tupleIPStrings(ev.tuple)
		err := batch.Append(
			ev.at, srcIP, dstIP, ev.tuple.SrcPort, ev.tuple.DstPort, ev.tuple.Protocol,
			ev.app, ev.domain, ev.reason.Kind.String(), ev.reason.Detail,
		)
		if err != nil {
			return fmt.Errorf("eventsink: appending row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("eventsink: sending batch: %w", err)
	}
	log.Printf("eventsink: flushed %d block events", len(s.batch))
	s.batch = s.batch[:0]
	return nil
}

// RecordRunSummary inserts one terminal summary row for a completed run.
func (s *Sink) RecordRunSummary(ctx context.Context, totalRead, forwarded, dropped, skipped, activeFlows, classified, blocked uint64) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO run_summary")
	if err != nil {
		return fmt.Errorf("eventsink: preparing run_summary batch: %w", err)
	}
	if err := batch.Append(time.Now(), totalRead, forwarded, dropped, skipped, activeFlows, classified, blocked); err != nil {
		return fmt.Errorf("eventsink: appending run_summary row: %w", err)
	}
	return batch.Send()
}

// Close releases the underlying connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}

func tupleIPStrings(t flow.Tuple) (srcIP, dstIP string) {
	return ipToString(t.SrcIP), ipToString(t.DstIP)
}

func ipToString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip&0xff, (ip>>8)&0xff, (ip>>16)&0xff, (ip>>24)&0xff)
}
