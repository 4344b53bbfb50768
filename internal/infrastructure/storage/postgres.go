package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/vitos/intraday_ladder_bot/internal/domain"
)

// PostgresStore is the PostgreSQL twin of SQLiteStore, for deployments
// where several engine hosts share one database. Same contract, $n
// placeholders.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection pool. Schema setup is the
// caller's concern (OpenPostgres does both).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ladders (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			instrument_token BIGINT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'STOPPED',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_add_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			extreme_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_qty BIGINT NOT NULL DEFAULT 0,
			level_count INTEGER NOT NULL DEFAULT 0,
			increase_pct DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			tsl_pct DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			max_levels INTEGER NOT NULL DEFAULT 5,
			sizing_type TEXT NOT NULL DEFAULT 'CAPITAL',
			sizing_qty BIGINT NOT NULL DEFAULT 0,
			sizing_capital DOUBLE PRECISION NOT NULL DEFAULT 10000,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE(client_id, instrument_token)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ladders_token_active ON ladders(instrument_token, is_active)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			ladder_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			instrument_token BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty BIGINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			tag TEXT NOT NULL,
			broker_order_id TEXT NOT NULL,
			placed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_placed_at ON trades(placed_at)`,
		`CREATE TABLE IF NOT EXISTS instruments (
			token BIGINT PRIMARY KEY,
			symbol TEXT NOT NULL,
			exchange TEXT NOT NULL,
			segment TEXT NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// LadderRepository Implementation

func (s *PostgresStore) GetOrCreate(ctx context.Context, clientID string, token int64) (*domain.Ladder, error) {
	now := time.Now().UTC()
	insert := `INSERT INTO ladders (id, client_id, instrument_token, mode, is_active, created_at, updated_at)
			   VALUES ($1, $2, $3, 'STOPPED', FALSE, $4, $5)
			   ON CONFLICT (client_id, instrument_token) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, insert, uuid.NewString(), clientID, token, now, now); err != nil {
		return nil, err
	}
	return s.GetByClientInstrument(ctx, clientID, token)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Ladder, error) {
	query := `SELECT ` + ladderColumns + ` FROM ladders WHERE id = $1`
	l, err := scanLadder(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLadderNotFound
	}
	return l, err
}

func (s *PostgresStore) GetByClientInstrument(ctx context.Context, clientID string, token int64) (*domain.Ladder, error) {
	query := `SELECT ` + ladderColumns + ` FROM ladders WHERE client_id = $1 AND instrument_token = $2`
	l, err := scanLadder(s.db.QueryRowContext(ctx, query, clientID, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLadderNotFound
	}
	return l, err
}

func (s *PostgresStore) List(ctx context.Context) ([]*domain.Ladder, error) {
	query := `SELECT ` + ladderColumns + ` FROM ladders ORDER BY created_at`
	return s.queryLadders(ctx, query)
}

func (s *PostgresStore) ActiveByInstrument(ctx context.Context, token int64) ([]*domain.Ladder, error) {
	query := `SELECT ` + ladderColumns + ` FROM ladders WHERE instrument_token = $1 AND is_active = TRUE`
	return s.queryLadders(ctx, query, token)
}

func (s *PostgresStore) queryLadders(ctx context.Context, query string, args ...interface{}) ([]*domain.Ladder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ladders []*domain.Ladder
	for rows.Next() {
		l, err := scanLadder(rows)
		if err != nil {
			return nil, err
		}
		ladders = append(ladders, l)
	}
	return ladders, rows.Err()
}

func (s *PostgresStore) Activate(ctx context.Context, l *domain.Ladder) error {
	l.UpdatedAt = time.Now().UTC()
	query := `UPDATE ladders SET mode = $1, is_active = TRUE, entry_price = $2, last_add_price = $3,
			  extreme_price = $4, current_qty = $5, level_count = $6, increase_pct = $7, tsl_pct = $8,
			  max_levels = $9, sizing_type = $10, sizing_qty = $11, sizing_capital = $12, updated_at = $13
			  WHERE id = $14 AND is_active = FALSE`
	res, err := s.db.ExecContext(ctx, query,
		l.Mode, l.EntryPrice, l.LastAddPrice, l.ExtremePrice, l.CurrentQty, l.LevelCount,
		l.IncreasePct, l.TSLPct, l.MaxLevels, l.Sizing.Type, l.Sizing.Quantity, l.Sizing.Capital,
		l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, l.ID); err != nil {
			return err
		}
		return domain.ErrAlreadyActive
	}
	return nil
}

func (s *PostgresStore) Apply(ctx context.Context, l *domain.Ladder) error {
	l.UpdatedAt = time.Now().UTC()
	query := `UPDATE ladders SET mode = $1, is_active = $2, entry_price = $3, last_add_price = $4,
			  extreme_price = $5, current_qty = $6, level_count = $7, updated_at = $8
			  WHERE id = $9`
	res, err := s.db.ExecContext(ctx, query,
		l.Mode, l.IsActive, l.EntryPrice, l.LastAddPrice, l.ExtremePrice,
		l.CurrentQty, l.LevelCount, l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrLadderNotFound
	}
	return nil
}

// TradeRepository Implementation

func (s *PostgresStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	query := `INSERT INTO trades (id, ladder_id, client_id, instrument_token, symbol, side, qty, price, tag, broker_order_id, placed_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.LadderID, t.ClientID, t.InstrumentToken, t.Symbol, t.Side, t.Quantity, t.Price, t.Tag, t.BrokerOrderID, t.PlacedAt)
	return err
}

func (s *PostgresStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, ladder_id, client_id, instrument_token, symbol, side, qty, price, tag, broker_order_id, placed_at
			  FROM trades ORDER BY placed_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.LadderID, &t.ClientID, &t.InstrumentToken, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Tag, &t.BrokerOrderID, &t.PlacedAt); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// InstrumentRepository Implementation

func (s *PostgresStore) UpsertInstrument(ctx context.Context, ins *domain.Instrument) error {
	query := `INSERT INTO instruments (token, symbol, exchange, segment)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (token) DO UPDATE SET
			  symbol = EXCLUDED.symbol,
			  exchange = EXCLUDED.exchange,
			  segment = EXCLUDED.segment`
	_, err := s.db.ExecContext(ctx, query, ins.Token, ins.Symbol, ins.Exchange, ins.Segment)
	return err
}

func (s *PostgresStore) GetInstrument(ctx context.Context, token int64) (*domain.Instrument, error) {
	query := `SELECT token, symbol, exchange, segment FROM instruments WHERE token = $1`
	var ins domain.Instrument
	err := s.db.QueryRowContext(ctx, query, token).Scan(&ins.Token, &ins.Symbol, &ins.Exchange, &ins.Segment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInstrumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ins, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]*domain.Instrument, error) {
	query := `SELECT token, symbol, exchange, segment FROM instruments ORDER BY symbol`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []*domain.Instrument
	for rows.Next() {
		var ins domain.Instrument
		if err := rows.Scan(&ins.Token, &ins.Symbol, &ins.Exchange, &ins.Segment); err != nil {
			return nil, err
		}
		instruments = append(instruments, &ins)
	}
	return instruments, rows.Err()
}
