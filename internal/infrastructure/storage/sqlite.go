package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/intraday_ladder_bot/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ladders (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			instrument_token INTEGER NOT NULL,
			mode TEXT NOT NULL DEFAULT 'STOPPED',
			is_active BOOLEAN NOT NULL DEFAULT 0,
			entry_price REAL NOT NULL DEFAULT 0,
			last_add_price REAL NOT NULL DEFAULT 0,
			extreme_price REAL NOT NULL DEFAULT 0,
			current_qty INTEGER NOT NULL DEFAULT 0,
			level_count INTEGER NOT NULL DEFAULT 0,
			increase_pct REAL NOT NULL DEFAULT 1.0,
			tsl_pct REAL NOT NULL DEFAULT 1.0,
			max_levels INTEGER NOT NULL DEFAULT 5,
			sizing_type TEXT NOT NULL DEFAULT 'CAPITAL',
			sizing_qty INTEGER NOT NULL DEFAULT 0,
			sizing_capital REAL NOT NULL DEFAULT 10000,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(client_id, instrument_token)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ladders_token_active ON ladders(instrument_token, is_active);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			ladder_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			instrument_token INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty INTEGER NOT NULL,
			price REAL NOT NULL,
			tag TEXT NOT NULL,
			broker_order_id TEXT NOT NULL,
			placed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_placed_at ON trades(placed_at);`,
		`CREATE TABLE IF NOT EXISTS instruments (
			token INTEGER PRIMARY KEY,
			symbol TEXT NOT NULL,
			exchange TEXT NOT NULL,
			segment TEXT NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: max_levels used to be a global setting.
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE ladders ADD COLUMN max_levels INTEGER NOT NULL DEFAULT 5`)

	return nil
}

// LadderRepository Implementation

const ladderColumns = `id, client_id, instrument_token, mode, is_active,
	entry_price, last_add_price, extreme_price, current_qty, level_count,
	increase_pct, tsl_pct, max_levels, sizing_type, sizing_qty, sizing_capital,
	created_at, updated_at`

func scanLadder(row interface{ Scan(...interface{}) error }) (*domain.Ladder, error) {
	var l domain.Ladder
	err := row.Scan(&l.ID, &l.ClientID, &l.InstrumentToken, &l.Mode, &l.IsActive,
		&l.EntryPrice, &l.LastAddPrice, &l.ExtremePrice, &l.CurrentQty, &l.LevelCount,
		&l.IncreasePct, &l.TSLPct, &l.MaxLevels, &l.Sizing.Type, &l.Sizing.Quantity, &l.Sizing.Capital,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if !l.Mode.Valid() {
		return nil, fmt.Errorf("ladder %s: unknown mode %q", l.ID, l.Mode)
	}
	return &l, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, clientID string, token int64) (*domain.Ladder, error) {
	now := time.Now().UTC()
	insert := `INSERT OR IGNORE INTO ladders (id, client_id, instrument_token, mode, is_active, created_at, updated_at)
			   VALUES (?, ?, ?, 'STOPPED', 0, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insert, uuid.NewString(), clientID, token, now, now); err != nil {
		return nil, err
	}
	return s.GetByClientInstrument(ctx, clientID, token)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Ladder, error) {
	query := `SELECT ` + ladderColumns + ` FROM ladders WHERE id = ?`
	l, err := scanLadder(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLadderNotFound
	}
	return l, err
}

func (s *SQLiteStore) GetByClientInstrument(ctx context.Context, clientID string, token int64) (*domain.Ladder, error) {
	query := `SELECT ` + ladderColumns + ` FROM ladders WHERE client_id = ? AND instrument_token = ?`
	l, err := scanLadder(s.db.QueryRowContext(ctx, query, clientID, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLadderNotFound
	}
	return l, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]*domain.Ladder, error) {
	query := `SELECT ` + ladderColumns + ` FROM ladders ORDER BY created_at`
	return s.queryLadders(ctx, query)
}

func (s *SQLiteStore) ActiveByInstrument(ctx context.Context, token int64) ([]*domain.Ladder, error) {
	query := `SELECT ` + ladderColumns + ` FROM ladders WHERE instrument_token = ? AND is_active = 1`
	return s.queryLadders(ctx, query, token)
}

func (s *SQLiteStore) queryLadders(ctx context.Context, query string, args ...interface{}) ([]*domain.Ladder, error) {
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

// Activate writes the seeded leg and flips is_active in one statement.
// The is_active = 0 condition is the double-activation guard: a row that
// is already active matches nothing and the caller gets ErrAlreadyActive.
func (s *SQLiteStore) Activate(ctx context.Context, l *domain.Ladder) error {
	l.UpdatedAt = time.Now().UTC()
	query := `UPDATE ladders SET mode = ?, is_active = 1, entry_price = ?, last_add_price = ?,
			  extreme_price = ?, current_qty = ?, level_count = ?, increase_pct = ?, tsl_pct = ?,
			  max_levels = ?, sizing_type = ?, sizing_qty = ?, sizing_capital = ?, updated_at = ?
			  WHERE id = ? AND is_active = 0`
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

func (s *SQLiteStore) Apply(ctx context.Context, l *domain.Ladder) error {
	l.UpdatedAt = time.Now().UTC()
	query := `UPDATE ladders SET mode = ?, is_active = ?, entry_price = ?, last_add_price = ?,
			  extreme_price = ?, current_qty = ?, level_count = ?, updated_at = ?
			  WHERE id = ?`
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

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	query := `INSERT INTO trades (id, ladder_id, client_id, instrument_token, symbol, side, qty, price, tag, broker_order_id, placed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.LadderID, t.ClientID, t.InstrumentToken, t.Symbol, t.Side, t.Quantity, t.Price, t.Tag, t.BrokerOrderID, t.PlacedAt)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, ladder_id, client_id, instrument_token, symbol, side, qty, price, tag, broker_order_id, placed_at
			  FROM trades ORDER BY placed_at DESC LIMIT ?`
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

func (s *SQLiteStore) UpsertInstrument(ctx context.Context, ins *domain.Instrument) error {
	query := `INSERT INTO instruments (token, symbol, exchange, segment)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(token) DO UPDATE SET
			  symbol=excluded.symbol,
			  exchange=excluded.exchange,
			  segment=excluded.segment`
	_, err := s.db.ExecContext(ctx, query, ins.Token, ins.Symbol, ins.Exchange, ins.Segment)
	return err
}

func (s *SQLiteStore) GetInstrument(ctx context.Context, token int64) (*domain.Instrument, error) {
	query := `SELECT token, symbol, exchange, segment FROM instruments WHERE token = ?`
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

func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]*domain.Instrument, error) {
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
