package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/intraday_ladder_bot/internal/domain"
)

var ladderTestColumns = []string{
	"id", "client_id", "instrument_token", "mode", "is_active",
	"entry_price", "last_add_price", "extreme_price", "current_qty", "level_count",
	"increase_pct", "tsl_pct", "max_levels", "sizing_type", "sizing_qty", "sizing_capital",
	"created_at", "updated_at",
}

func sampleLadder() *domain.Ladder {
	now := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	return &domain.Ladder{
		ID:              "lad-1",
		ClientID:        "client-1",
		InstrumentToken: 1001,
		Mode:            domain.ModeBuy,
		IsActive:        true,
		EntryPrice:      100,
		LastAddPrice:    101.2,
		ExtremePrice:    101.5,
		CurrentQty:      20,
		LevelCount:      2,
		IncreasePct:     1.0,
		TSLPct:          1.0,
		MaxLevels:       5,
		Sizing:          domain.EntrySizing{Type: domain.SizingCapital, Capital: 10000},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func ladderRows(l *domain.Ladder) *sqlmock.Rows {
	return sqlmock.NewRows(ladderTestColumns).
		AddRow(l.ID, l.ClientID, l.InstrumentToken, string(l.Mode), l.IsActive,
			l.EntryPrice, l.LastAddPrice, l.ExtremePrice, l.CurrentQty, l.LevelCount,
			l.IncreasePct, l.TSLPct, l.MaxLevels, string(l.Sizing.Type), l.Sizing.Quantity, l.Sizing.Capital,
			l.CreatedAt, l.UpdatedAt)
}

func TestNewPostgresStore(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	require.NotNil(t, store)
	assert.Equal(t, db, store.db)
}

func TestPostgresGet(t *testing.T) {
	want := sampleLadder()

	tests := []struct {
		name        string
		id          string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			id:   "lad-1",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM ladders WHERE id = \$1`).
					WithArgs("lad-1").
					WillReturnRows(ladderRows(want))
			},
			expectError: nil,
		},
		{
			name: "not found",
			id:   "ghost",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM ladders WHERE id = \$1`).
					WithArgs("ghost").
					WillReturnError(sql.ErrNoRows)
			},
			expectError: domain.ErrLadderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mockSetup(mock)

			store := NewPostgresStore(db)
			got, err := store.Get(context.Background(), tt.id)

			if tt.expectError != nil {
				require.ErrorIs(t, err, tt.expectError)
			} else {
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresGetRejectsUnknownMode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	bad := sampleLadder()
	bad.Mode = "SIDEWAYS"
	mock.ExpectQuery(`SELECT .+ FROM ladders WHERE id = \$1`).
		WithArgs("lad-1").
		WillReturnRows(ladderRows(bad))

	store := NewPostgresStore(db)
	_, err = store.Get(context.Background(), "lad-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetOrCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	want := sampleLadder()
	mock.ExpectExec(`INSERT INTO ladders`).
		WithArgs(sqlmock.AnyArg(), "client-1", int64(1001), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM ladders WHERE client_id = \$1 AND instrument_token = \$2`).
		WithArgs("client-1", int64(1001)).
		WillReturnRows(ladderRows(want))

	store := NewPostgresStore(db)
	got, err := store.GetOrCreate(context.Background(), "client-1", 1001)

	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresActivate(t *testing.T) {
	activateExec := func(mock sqlmock.Sqlmock) *sqlmock.ExpectedExec {
		return mock.ExpectExec(`UPDATE ladders SET mode = \$1, is_active = TRUE, .+ WHERE id = \$14 AND is_active = FALSE`).
			WithArgs(domain.ModeBuy, 100.0, 101.2, 101.5, int64(20), 2,
				1.0, 1.0, 5, domain.SizingCapital, int64(0), 10000.0,
				sqlmock.AnyArg(), "lad-1")
	}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				activateExec(mock).WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: nil,
		},
		{
			// Guard row untouched means another activation won the race.
			name: "already active",
			mockSetup: func(mock sqlmock.Sqlmock) {
				activateExec(mock).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT .+ FROM ladders WHERE id = \$1`).
					WithArgs("lad-1").
					WillReturnRows(ladderRows(sampleLadder()))
			},
			expectError: domain.ErrAlreadyActive,
		},
		{
			name: "row vanished",
			mockSetup: func(mock sqlmock.Sqlmock) {
				activateExec(mock).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT .+ FROM ladders WHERE id = \$1`).
					WithArgs("lad-1").
					WillReturnError(sql.ErrNoRows)
			},
			expectError: domain.ErrLadderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mockSetup(mock)

			store := NewPostgresStore(db)
			err = store.Activate(context.Background(), sampleLadder())

			if tt.expectError != nil {
				require.ErrorIs(t, err, tt.expectError)
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresApply(t *testing.T) {
	errConn := errors.New("connection reset")
	applyExec := func(mock sqlmock.Sqlmock) *sqlmock.ExpectedExec {
		return mock.ExpectExec(`UPDATE ladders SET mode = \$1, is_active = \$2, .+ WHERE id = \$9`).
			WithArgs(domain.ModeBuy, true, 100.0, 101.2, 101.5, int64(20), 2, sqlmock.AnyArg(), "lad-1")
	}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				applyExec(mock).WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: nil,
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				applyExec(mock).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectError: domain.ErrLadderNotFound,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				applyExec(mock).WillReturnError(errConn)
			},
			expectError: errConn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mockSetup(mock)

			store := NewPostgresStore(db)
			err = store.Apply(context.Background(), sampleLadder())

			if tt.expectError != nil {
				require.ErrorIs(t, err, tt.expectError)
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresActiveByInstrument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	want := sampleLadder()
	mock.ExpectQuery(`SELECT .+ FROM ladders WHERE instrument_token = \$1 AND is_active = TRUE`).
		WithArgs(int64(1001)).
		WillReturnRows(ladderRows(want))

	store := NewPostgresStore(db)
	got, err := store.ActiveByInstrument(context.Background(), 1001)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	placedAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	trade := &domain.Trade{
		ID:              "trd-1",
		LadderID:        "lad-1",
		ClientID:        "client-1",
		InstrumentToken: 1001,
		Symbol:          "RELIANCE",
		Side:            domain.SideBuy,
		Quantity:        10,
		Price:           100.5,
		Tag:             domain.TagLadderStart,
		BrokerOrderID:   "ORD-1",
		PlacedAt:        placedAt,
	}

	mock.ExpectExec(`INSERT INTO trades`).
		WithArgs("trd-1", "lad-1", "client-1", int64(1001), "RELIANCE",
			domain.SideBuy, int64(10), 100.5, domain.TagLadderStart, "ORD-1", placedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	require.NoError(t, store.SaveTrade(context.Background(), trade))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListTrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	placedAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "ladder_id", "client_id", "instrument_token", "symbol",
		"side", "qty", "price", "tag", "broker_order_id", "placed_at",
	}).
		AddRow("trd-2", "lad-1", "client-1", int64(1001), "RELIANCE",
			"SELL", int64(30), 99.0, "TSL_EXIT", "ORD-2", placedAt.Add(time.Minute)).
		AddRow("trd-1", "lad-1", "client-1", int64(1001), "RELIANCE",
			"BUY", int64(10), 100.5, "LADDER_START", "ORD-1", placedAt)
	mock.ExpectQuery(`SELECT .+ FROM trades ORDER BY placed_at DESC LIMIT \$1`).
		WithArgs(2).
		WillReturnRows(rows)

	store := NewPostgresStore(db)
	got, err := store.ListTrades(context.Background(), 2)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.TagTSLExit, got[0].Tag)
	assert.Equal(t, domain.TagLadderStart, got[1].Tag)
	assert.Equal(t, int64(30), got[0].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInstruments(t *testing.T) {
	t.Run("get not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT token, symbol, exchange, segment FROM instruments WHERE token = \$1`).
			WithArgs(int64(9999)).
			WillReturnError(sql.ErrNoRows)

		store := NewPostgresStore(db)
		_, err = store.GetInstrument(context.Background(), 9999)
		require.ErrorIs(t, err, domain.ErrInstrumentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("upsert then get", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		ins := &domain.Instrument{Token: 1001, Symbol: "RELIANCE", Exchange: "NSE", Segment: "EQ"}
		mock.ExpectExec(`INSERT INTO instruments`).
			WithArgs(int64(1001), "RELIANCE", "NSE", "EQ").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT token, symbol, exchange, segment FROM instruments WHERE token = \$1`).
			WithArgs(int64(1001)).
			WillReturnRows(sqlmock.NewRows([]string{"token", "symbol", "exchange", "segment"}).
				AddRow(int64(1001), "RELIANCE", "NSE", "EQ"))

		store := NewPostgresStore(db)
		require.NoError(t, store.UpsertInstrument(context.Background(), ins))

		got, err := store.GetInstrument(context.Background(), 1001)
		require.NoError(t, err)
		assert.Equal(t, ins, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT token, symbol, exchange, segment FROM instruments ORDER BY symbol`).
			WillReturnRows(sqlmock.NewRows([]string{"token", "symbol", "exchange", "segment"}).
				AddRow(int64(408065), "INFY", "NSE", "EQ").
				AddRow(int64(738561), "RELIANCE", "NSE", "EQ"))

		store := NewPostgresStore(db)
		got, err := store.ListInstruments(context.Background())

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "INFY", got[0].Symbol)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
