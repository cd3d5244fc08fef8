package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SqueezeWatch/internal/domain/models"
	domrepo "SqueezeWatch/internal/domain/repository"
	pkgch "SqueezeWatch/pkg/clickhouse"
	applogger "SqueezeWatch/pkg/logger"
)

// ClickHouseHistory persists history events in a single MergeTree table and
// serves the read side of the history API. Rows keep the full event envelope
// as JSON next to the (kind, symbol, at) sort key, so reads filter in SQL and
// decode the payload.
type ClickHouseHistory struct {
	client *pkgch.Client
	db     *sql.DB
	table  string
	l      *applogger.Logger
}

func NewClickHouseHistory(client *pkgch.Client, table string, l *applogger.Logger) *ClickHouseHistory {
	if table == "" {
		table = "squeeze_events"
	}
	return &ClickHouseHistory{client: client, db: client.DB(), table: table, l: l}
}

func (s *ClickHouseHistory) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            at      DateTime64(3, 'UTC'),
            kind    LowCardinality(String),
            symbol  LowCardinality(String),
            payload String CODEC(ZSTD)
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMMDD(at)
        ORDER BY (kind, symbol, at)
    `, s.table)
	if err := s.client.InitSchema(ctx, []string{ddl}); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	if s.l != nil {
		s.l.Info("history schema ready", applogger.String("table", s.table))
	}
	return nil
}

func (s *ClickHouseHistory) Store(ctx context.Context, e *models.HistoryEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s (at, kind, symbol, payload) VALUES (?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, q, e.At, string(e.Kind), e.Symbol, string(payload)); err != nil {
		return fmt.Errorf("store %s event: %w", e.Kind, err)
	}
	return nil
}

func (s *ClickHouseHistory) StoreBatch(ctx context.Context, events []*models.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	const chunkSize = 500
	for start := 0; start < len(events); start += chunkSize {
		end := start + chunkSize
		if end > len(events) {
			end = len(events)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*4)
		for _, e := range events[start:end] {
			if e == nil || e.Symbol == "" {
				continue
			}
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			values = append(values, "(?, ?, ?, ?)")
			args = append(args, e.At, string(e.Kind), e.Symbol, string(payload))
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (at, kind, symbol, payload) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store batch of %d events: %w", len(args)/4, err)
		}
	}
	return nil
}

// RecentSignals returns the newest signals for a symbol, newest first.
func (s *ClickHouseHistory) RecentSignals(ctx context.Context, symbol string, limit int) ([]*models.TradingSignal, error) {
	q := fmt.Sprintf(`
        SELECT payload FROM %s
        WHERE kind = ? AND symbol = ?
        ORDER BY at DESC
        LIMIT ?
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, string(models.EventSignal), symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	defer rows.Close()

	out := make([]*models.TradingSignal, 0, limit)
	err = scanEvents(rows, func(e *models.HistoryEvent) {
		if e.Signal != nil {
			out = append(out, e.Signal)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecentTrades returns the newest closed trades across all symbols, newest first.
func (s *ClickHouseHistory) RecentTrades(ctx context.Context, limit int) ([]*models.ClosedTrade, error) {
	q := fmt.Sprintf(`
        SELECT payload FROM %s
        WHERE kind = ?
        ORDER BY at DESC
        LIMIT ?
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, string(models.EventTrade), limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ClosedTrade, 0, limit)
	err = scanEvents(rows, func(e *models.HistoryEvent) {
		if e.Trade != nil {
			out = append(out, e.Trade)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SignalsBetween returns signals for a symbol inside [from, to], oldest first.
func (s *ClickHouseHistory) SignalsBetween(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.TradingSignal, error) {
	q := fmt.Sprintf(`
        SELECT payload FROM %s
        WHERE kind = ? AND symbol = ? AND at >= ? AND at <= ?
        ORDER BY at ASC
        LIMIT ?
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, string(models.EventSignal), symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("signals between: %w", err)
	}
	defer rows.Close()

	out := make([]*models.TradingSignal, 0, limit)
	err = scanEvents(rows, func(e *models.HistoryEvent) {
		if e.Signal != nil {
			out = append(out, e.Signal)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ClickHouseHistory) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseHistory) Close() error {
	return nil // connection pool owned by pkg client
}

// scanEvents decodes payload rows into envelopes. Rows that no longer decode
// (old schema, truncated payload) are skipped rather than failing the read.
func scanEvents(rows *sql.Rows, visit func(*models.HistoryEvent)) error {
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		var e models.HistoryEvent
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			continue
		}
		visit(&e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}

var _ domrepo.HistoryStore = (*ClickHouseHistory)(nil)
