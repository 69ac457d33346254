package ledgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"
)

func newTestBoltLedger(t *testing.T) *BoltLedger {
	t.Helper()
	l, err := NewBoltLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open bolt ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBoltLedgerAccounts(t *testing.T) {
	l := newTestBoltLedger(t)
	ctx := context.Background()

	if _, err := l.Account(ctx, "alice"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	acct, err := l.EnsureAccount(ctx, "alice", 1000)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if acct.Balance != 1000 {
		t.Fatalf("expected balance 1000, got %d", acct.Balance)
	}

	// Ensure again must not reset the balance.
	acct, err = l.EnsureAccount(ctx, "alice", 5000)
	if err != nil {
		t.Fatalf("ensure account again: %v", err)
	}
	if acct.Balance != 1000 {
		t.Fatalf("expected balance 1000 after re-ensure, got %d", acct.Balance)
	}

	acct, err = l.Account(ctx, "alice")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.UserID != "alice" || acct.Balance != 1000 {
		t.Fatalf("unexpected account %+v", acct)
	}
}

func TestBoltLedgerDebitWagers(t *testing.T) {
	l := newTestBoltLedger(t)
	ctx := context.Background()

	if _, err := l.EnsureAccount(ctx, "bob", 500); err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	amounts := [NumLines]int64{0, 40, 0, 60, 0}
	newBal, err := l.DebitWagers(ctx, "bob", 7, amounts, 100)
	if err != nil {
		t.Fatalf("debit wagers: %v", err)
	}
	if newBal != 400 {
		t.Fatalf("expected balance 400, got %d", newBal)
	}

	// One entry and one wager row per non-zero line.
	var entries, wagers int
	err = l.db.View(func(tx *bbolt.Tx) error {
		entries = tx.Bucket(bucketEntries).Stats().KeyN
		rb := tx.Bucket(bucketWagers).Bucket(itob(7))
		if rb != nil {
			wagers = rb.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect buckets: %v", err)
	}
	if entries != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", entries)
	}
	if wagers != 2 {
		t.Fatalf("expected 2 wager rows, got %d", wagers)
	}
}

func TestBoltLedgerDebitInsufficient(t *testing.T) {
	l := newTestBoltLedger(t)
	ctx := context.Background()

	if _, err := l.EnsureAccount(ctx, "carol", 50); err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	amounts := [NumLines]int64{100, 0, 0, 0, 0}
	if _, err := l.DebitWagers(ctx, "carol", 1, amounts, 100); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Nothing changed: balance intact, no entries appended.
	acct, err := l.Account(ctx, "carol")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Balance != 50 {
		t.Fatalf("expected balance 50 after failed debit, got %d", acct.Balance)
	}
	err = l.db.View(func(tx *bbolt.Tx) error {
		if n := tx.Bucket(bucketEntries).Stats().KeyN; n != 0 {
			t.Fatalf("expected 0 entries after failed debit, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect buckets: %v", err)
	}

	if _, err := l.DebitWagers(ctx, "nobody", 1, amounts, 100); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestBoltLedgerCreditWin(t *testing.T) {
	l := newTestBoltLedger(t)
	ctx := context.Background()

	if _, err := l.EnsureAccount(ctx, "dave", 400); err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	newBal, err := l.CreditWin(ctx, "dave", 7, 3, 500)
	if err != nil {
		t.Fatalf("credit win: %v", err)
	}
	if newBal != 900 {
		t.Fatalf("expected balance 900, got %d", newBal)
	}

	if _, err := l.CreditWin(ctx, "nobody", 7, 3, 500); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestBoltLedgerRounds(t *testing.T) {
	l := newTestBoltLedger(t)
	ctx := context.Background()

	last, err := l.LastRoundID(ctx)
	if err != nil {
		t.Fatalf("last round id: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected last round 0 on empty db, got %d", last)
	}

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(27 * time.Second)
	if err := l.RecordRound(ctx, 42, start, end, 3); err != nil {
		t.Fatalf("record round: %v", err)
	}
	// Recording again must be a no-op, not an error.
	if err := l.RecordRound(ctx, 42, start, end, 5); err != nil {
		t.Fatalf("record round twice: %v", err)
	}

	last, err = l.LastRoundID(ctx)
	if err != nil {
		t.Fatalf("last round id: %v", err)
	}
	if last != 42 {
		t.Fatalf("expected last round 42, got %d", last)
	}

	// First write wins.
	err = l.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketRounds).Get(itob(42))
		if raw == nil {
			t.Fatal("round record missing")
		}
		var rec RoundRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.WinningLine != 3 {
			t.Fatalf("expected winning line 3, got %d", rec.WinningLine)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect rounds: %v", err)
	}
}
