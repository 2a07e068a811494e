package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickstream/capture/internal/model"
)

// PGStore implements Store against PostgreSQL. Timestamps are stored as
// BIGINT microseconds since epoch; the original wire payload rides along in
// raw_data for reprocessing.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore wraps a connection pool.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS quotes (
		id BIGSERIAL PRIMARY KEY,
		received_at BIGINT NOT NULL,
		exchange_ts BIGINT,
		contract_id TEXT NOT NULL,
		symbol TEXT,
		best_bid DOUBLE PRECISION,
		best_ask DOUBLE PRECISION,
		last_price DOUBLE PRECISION,
		volume BIGINT,
		raw_data JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		received_at BIGINT NOT NULL,
		exchange_ts BIGINT,
		contract_id TEXT NOT NULL,
		symbol_id TEXT,
		price DOUBLE PRECISION NOT NULL,
		volume BIGINT NOT NULL,
		trade_type INT,
		is_buy BOOLEAN,
		trade_sequence INT,
		raw_data JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS market_depth (
		id BIGSERIAL PRIMARY KEY,
		received_at BIGINT NOT NULL,
		exchange_ts BIGINT,
		contract_id TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		volume BIGINT NOT NULL,
		current_volume BIGINT,
		depth_type INT,
		side TEXT NOT NULL,
		level_rank INT,
		raw_data JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS data_sessions (
		session_id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		start_ts BIGINT NOT NULL,
		end_ts BIGINT,
		stop_reason TEXT,
		quotes_received BIGINT DEFAULT 0,
		trades_received BIGINT DEFAULT 0,
		depth_received BIGINT DEFAULT 0,
		quotes_committed BIGINT DEFAULT 0,
		trades_committed BIGINT DEFAULT 0,
		depth_committed BIGINT DEFAULT 0,
		rejected BIGINT DEFAULT 0,
		dropped BIGINT DEFAULT 0,
		lost BIGINT DEFAULT 0,
		parse_errors BIGINT DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_received ON quotes(received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_contract ON quotes(contract_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_received ON trades(received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_contract ON trades(contract_id)`,
	`CREATE INDEX IF NOT EXISTS idx_depth_received ON market_depth(received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_depth_side ON market_depth(side)`,
}

// EnsureSchema creates tables and indexes if they do not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertBatch writes one variant's events in a single pgx batch round trip.
func (s *PGStore) InsertBatch(ctx context.Context, variant model.Variant, events []model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for i := range events {
		queueInsert(batch, &events[i])
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("insert %s batch: %w", variant, err)
		}
	}
	return len(events), nil
}

func queueInsert(batch *pgx.Batch, ev *model.Event) {
	received := ev.ReceivedAt.UnixMicro()
	var exchange any
	if ev.ExchangeTS != 0 {
		exchange = ev.ExchangeTS
	}

	switch ev.Variant {
	case model.VariantQuote:
		batch.Queue(`
			INSERT INTO quotes (received_at, exchange_ts, contract_id, symbol,
				best_bid, best_ask, last_price, volume, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, received, exchange, ev.ContractID, ev.Quote.Symbol,
			ev.Quote.BestBid, ev.Quote.BestAsk, ev.Quote.LastPrice,
			ev.Quote.Volume, []byte(ev.Raw))
	case model.VariantTrade:
		batch.Queue(`
			INSERT INTO trades (received_at, exchange_ts, contract_id, symbol_id,
				price, volume, trade_type, is_buy, trade_sequence, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, received, exchange, ev.ContractID, ev.Trade.SymbolID,
			ev.Trade.Price, ev.Trade.Volume, ev.Trade.Type, ev.Trade.IsBuy,
			ev.Trade.Sequence, []byte(ev.Raw))
	case model.VariantDepth:
		batch.Queue(`
			INSERT INTO market_depth (received_at, exchange_ts, contract_id,
				price, volume, current_volume, depth_type, side, level_rank, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, received, exchange, ev.ContractID,
			ev.Depth.Price, ev.Depth.Volume, ev.Depth.CurrentVolume,
			ev.Depth.Type, ev.Depth.Side, ev.Depth.LevelRank, []byte(ev.Raw))
	}
}

// BeginSession records the session start row.
func (s *PGStore) BeginSession(ctx context.Context, sess *model.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO data_sessions (session_id, contract_id, start_ts)
		VALUES ($1, $2, $3)
	`, sess.ID, sess.ContractID, sess.StartTS)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// FinishSession writes the finalized counters. The row is write-once after
// this; nothing in the pipeline updates it again.
func (s *PGStore) FinishSession(ctx context.Context, sess *model.Session) error {
	_, err := s.db.Exec(ctx, `
		UPDATE data_sessions SET
			end_ts = $2,
			stop_reason = $3,
			quotes_received = $4, trades_received = $5, depth_received = $6,
			quotes_committed = $7, trades_committed = $8, depth_committed = $9,
			rejected = $10, dropped = $11, lost = $12, parse_errors = $13
		WHERE session_id = $1
	`, sess.ID, sess.EndTS, string(sess.Reason),
		sess.Received.Quotes, sess.Received.Trades, sess.Received.Depth,
		sess.Committed.Quotes, sess.Committed.Trades, sess.Committed.Depth,
		sess.Rejected, sess.Dropped, sess.Lost, sess.ParseErrors)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}
