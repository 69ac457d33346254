package fivegame

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/decred/slog"

	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

// Settlement resolves rounds: draws the winning line, persists the outcome,
// pays winners and notifies clients. One settlement failure never blocks
// another user's payout.
type Settlement struct {
	log        slog.Logger
	ledger     Ledger
	sessions   *SessionRegistry
	notifier   Notifier
	multiplier int64

	// draw picks the winning line in [1, NumLines]. Overridable in tests.
	draw func() (int, error)
}

func NewSettlement(ledger Ledger, sessions *SessionRegistry, notifier Notifier, multiplier int64, log slog.Logger) *Settlement {
	return &Settlement{
		log:        log,
		ledger:     ledger,
		sessions:   sessions,
		notifier:   notifier,
		multiplier: multiplier,
		draw:       drawLine,
	}
}

// drawLine picks uniformly from [1, NumLines] using crypto/rand.
func drawLine() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(NumLines))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 1, nil
}

type payout struct {
	userID  string
	win     int64
	balance int64
}

// Settle resolves a round that has already entered RESULTED and drained its
// in-flight finalizes. It draws the line, records the outcome, credits each
// winning snapshot and sends the result notifications.
func (se *Settlement) Settle(ctx context.Context, r *Round) error {
	line, err := se.draw()
	if err != nil {
		return fmt.Errorf("draw winning line: %w", err)
	}
	r.setWinningLine(line)

	gen := r.Generation()
	snaps := r.Finalized()
	se.log.Debugf("Settling round %d: winning line %d, %d finalized wager sets",
		gen, line, len(snaps))

	if err := se.ledger.RecordRound(ctx, gen, r.StartTime(), r.ResultTime(), line); err != nil {
		// The outcome record is bookkeeping; payouts still proceed.
		se.log.Errorf("Failed to record round %d: %v", gen, err)
	}

	var payouts []payout
	for _, snap := range snaps {
		win := snap.Amounts[line-1] * se.multiplier
		if win <= 0 {
			continue
		}
		balance, err := se.ledger.CreditWin(ctx, snap.UserID, gen, line, win)
		if err != nil {
			se.log.Errorf("Failed to credit %d to user %s for round %d: %v",
				win, snap.UserID, gen, err)
			continue
		}
		se.log.Debugf("Credited %d to user %s for round %d", win, snap.UserID, gen)
		payouts = append(payouts, payout{userID: snap.UserID, win: win, balance: balance})
	}

	serverTime := time.Now().UnixMilli()
	se.notifier.Broadcast(protocol.Event{
		Type: protocol.TypeRoundResult,
		Data: protocol.RoundResultPayload{
			RoundID:     gen,
			WinningLine: line,
			ServerTime:  serverTime,
		},
	})

	for _, p := range payouts {
		win, balance := p.win, p.balance
		for _, sess := range se.sessions.ByUser(p.userID) {
			se.sessions.SetBalance(sess.ConnID, balance)
			se.notifier.SendTo(sess.ConnID, protocol.Event{
				Type: protocol.TypeRoundResult,
				Data: protocol.RoundResultPayload{
					RoundID:     gen,
					WinningLine: line,
					ServerTime:  serverTime,
					WinAmount:   &win,
					NewBalance:  &balance,
				},
			})
		}
	}
	return nil
}
