package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		id INTEGER PRIMARY KEY,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		winning_line INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wagers (
		round_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		line INTEGER NOT NULL,
		amount INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wagers_round ON wagers(round_id)`,
}

// SQLiteLedger is the single-file SQL backend. SQLite locks at database
// granularity, so a write transaction gives the same exclusion the postgres
// backend gets from row locks.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens the ledger database at path and applies migrations.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	for _, stmt := range sqliteMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Account(ctx context.Context, userID string) (*Account, error) {
	acct := &Account{UserID: userID}
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&acct.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (l *SQLiteLedger) EnsureAccount(ctx context.Context, userID string, startingBalance int64) (*Account, error) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, startingBalance)
	if err != nil {
		return nil, err
	}
	return l.Account(ctx, userID)
}

func (l *SQLiteLedger) DebitWagers(ctx context.Context, userID string, roundID int64, amounts [NumLines]int64, total int64) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Conditional debit first so the transaction takes the write lock up
	// front; zero rows means missing account or insufficient balance.
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - ?1
		WHERE user_id = ?2 AND balance >= ?1
	`, total, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		var bal int64
		err := tx.QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&bal)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, ErrInsufficientFunds
	}

	now := time.Now().UTC().UnixMilli()
	for i, amt := range amounts {
		if amt == 0 {
			continue
		}
		line := i + 1
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (user_id, amount, kind, description, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, userID, amt, string(KindBet), betDescription(roundID, line), now); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wagers (round_id, user_id, line, amount)
			VALUES (?, ?, ?, ?)
		`, roundID, userID, line, amt); err != nil {
			return 0, err
		}
	}

	var newBalance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&newBalance); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (l *SQLiteLedger) CreditWin(ctx context.Context, userID string, roundID int64, line int, amount int64) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + ? WHERE user_id = ?
	`, amount, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrAccountNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, kind, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, amount, string(KindWin), winDescription(roundID, line), time.Now().UTC().UnixMilli()); err != nil {
		return 0, err
	}

	var newBalance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&newBalance); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (l *SQLiteLedger) RecordRound(ctx context.Context, roundID int64, startTime, endTime time.Time, winningLine int) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO rounds (id, start_time, end_time, winning_line)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, roundID, startTime.UTC().UnixMilli(), endTime.UTC().UnixMilli(), winningLine)
	return err
}

func (l *SQLiteLedger) LastRoundID(ctx context.Context) (int64, error) {
	var last int64
	err := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM rounds`).Scan(&last)
	if err != nil {
		return 0, err
	}
	return last, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
