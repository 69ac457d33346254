// Package ledgerdb is the transactional balance ledger behind the wagering
// engine. Every backend guarantees the same contract: DebitWagers and
// CreditWin mutate an account balance and append the matching ledger entries
// inside one storage transaction, all-or-nothing, with the balance read under
// a write lock so concurrent settlements cannot interleave.
package ledgerdb

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountExists     = errors.New("account already exists")
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	KindBet EntryKind = "bet"
	KindWin EntryKind = "win"
)

// NumLines mirrors the engine's line count; wager amounts arrive as a fixed
// five-element array indexed by line-1.
const NumLines = 5

type Account struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// Entry is one append-only ledger record. Amount is a positive magnitude;
// Kind says which way the money moved.
type Entry struct {
	ID          uint64    `json:"id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Kind        EntryKind `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoundRecord is the durable outcome of one round. ID is the round's
// generation number.
type RoundRecord struct {
	ID          int64     `json:"id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	WinningLine int       `json:"winning_line"`
}

// WagerRecord is one finalized line stake, written atomically with its debit.
type WagerRecord struct {
	RoundID int64  `json:"round_id"`
	UserID  string `json:"user_id"`
	Line    int    `json:"line"`
	Amount  int64  `json:"amount"`
}

type Ledger interface {
	// Account returns the account or ErrAccountNotFound.
	Account(ctx context.Context, userID string) (*Account, error)

	// EnsureAccount returns the account, creating it with startingBalance
	// when missing.
	EnsureAccount(ctx context.Context, userID string, startingBalance int64) (*Account, error)

	// DebitWagers atomically checks balance >= total, debits total, appends
	// one "bet" entry per non-zero line and stores the wager rows for
	// roundID. Returns the new balance, or ErrInsufficientFunds with no
	// state changed.
	DebitWagers(ctx context.Context, userID string, roundID int64, amounts [NumLines]int64, total int64) (int64, error)

	// CreditWin atomically credits amount and appends a "win" entry.
	CreditWin(ctx context.Context, userID string, roundID int64, line int, amount int64) (int64, error)

	// RecordRound stores the round outcome. Recording the same round twice
	// is a no-op.
	RecordRound(ctx context.Context, roundID int64, startTime, endTime time.Time, winningLine int) error

	// LastRoundID returns the highest recorded round id, 0 when none.
	LastRoundID(ctx context.Context) (int64, error)

	Close() error
}

// Open selects a backend by driver name. The dsn is a file path for bolt and
// sqlite, a connection URL for postgres.
func Open(ctx context.Context, driver, dsn string) (Ledger, error) {
	switch driver {
	case "bolt", "":
		return NewBoltLedger(dsn)
	case "sqlite":
		return NewSQLiteLedger(dsn)
	case "postgres":
		return NewPostgresLedger(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
}

func betDescription(roundID int64, line int) string {
	return fmt.Sprintf("bet on line %d round %d", line, roundID)
}

func winDescription(roundID int64, line int) string {
	return fmt.Sprintf("win on line %d round %d", line, roundID)
}
