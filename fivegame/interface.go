package fivegame

import (
	"context"
	"time"

	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

// Notifier delivers protocol events to connected clients. The websocket
// transport implements it; tests substitute a recorder.
type Notifier interface {
	// SendTo delivers an event to a single connection. Delivery is best
	// effort; a dead connection is not an error.
	SendTo(connID string, event protocol.Event)

	// Broadcast delivers an event to every connection.
	Broadcast(event protocol.Event)
}

// Ledger is the slice of the money store the engine needs. All amounts are
// minor units.
type Ledger interface {
	// DebitWagers atomically debits total from the user's balance and
	// records one bet entry plus one wager row per staked line, all under
	// the same round. Returns the post-debit balance, or
	// ledgerdb.ErrInsufficientFunds with no state change.
	DebitWagers(ctx context.Context, userID string, roundID int64, amounts [NumLines]int64, total int64) (int64, error)

	// CreditWin credits a payout and records the win entry. Returns the
	// post-credit balance.
	CreditWin(ctx context.Context, userID string, roundID int64, line int, amount int64) (int64, error)

	// RecordRound persists a round's outcome. Idempotent per round id.
	RecordRound(ctx context.Context, roundID int64, startTime, resultTime time.Time, winningLine int) error

	// LastRoundID returns the highest recorded round id, 0 when none.
	LastRoundID(ctx context.Context) (int64, error)
}
