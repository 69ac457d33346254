package ledgerdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount BIGINT NOT NULL,
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		id BIGINT PRIMARY KEY,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		winning_line INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wagers (
		round_id BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		line INT NOT NULL,
		amount BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wagers_round ON wagers(round_id)`,
}

// PostgresLedger is the shared-server backend. Balance reads inside
// DebitWagers take a row lock (SELECT ... FOR UPDATE) so concurrent
// finalizations of the same account serialize at the database.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to dsn and applies migrations.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for _, stmt := range postgresMigrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) Account(ctx context.Context, userID string) (*Account, error) {
	acct := &Account{UserID: userID}
	err := l.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&acct.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (l *PostgresLedger) EnsureAccount(ctx context.Context, userID string, startingBalance int64) (*Account, error) {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, startingBalance)
	if err != nil {
		return nil, err
	}
	return l.Account(ctx, userID)
}

func (l *PostgresLedger) DebitWagers(ctx context.Context, userID string, roundID int64, amounts [NumLines]int64, total int64) (int64, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	if balance < total {
		return 0, ErrInsufficientFunds
	}

	newBalance := balance - total
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = $1 WHERE user_id = $2
	`, newBalance, userID); err != nil {
		return 0, err
	}

	for i, amt := range amounts {
		if amt == 0 {
			continue
		}
		line := i + 1
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (user_id, amount, kind, description)
			VALUES ($1, $2, $3, $4)
		`, userID, amt, string(KindBet), betDescription(roundID, line)); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO wagers (round_id, user_id, line, amount)
			VALUES ($1, $2, $3, $4)
		`, roundID, userID, line, amt); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (l *PostgresLedger) CreditWin(ctx context.Context, userID string, roundID int64, line int, amount int64) (int64, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var newBalance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $1 WHERE user_id = $2
		RETURNING balance
	`, amount, userID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (user_id, amount, kind, description)
		VALUES ($1, $2, $3, $4)
	`, userID, amount, string(KindWin), winDescription(roundID, line)); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (l *PostgresLedger) RecordRound(ctx context.Context, roundID int64, startTime, endTime time.Time, winningLine int) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO rounds (id, start_time, end_time, winning_line)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, roundID, startTime.UTC(), endTime.UTC(), winningLine)
	return err
}

func (l *PostgresLedger) LastRoundID(ctx context.Context) (int64, error) {
	var last int64
	err := l.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM rounds`).Scan(&last)
	if err != nil {
		return 0, err
	}
	return last, nil
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
