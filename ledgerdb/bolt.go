package ledgerdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketAccounts = []byte("accounts")
	bucketEntries  = []byte("entries")
	bucketRounds   = []byte("rounds")
	bucketWagers   = []byte("wagers")

	errBucketNotFound = errors.New("bucket not found")
)

// BoltLedger is the embedded backend. Bolt serializes writers, so every
// Update closure below is one atomic debit/credit unit.
type BoltLedger struct {
	db *bbolt.DB
}

// NewBoltLedger opens or creates the ledger database at path.
func NewBoltLedger(path string) (*BoltLedger, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketEntries, bucketRounds, bucketWagers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltLedger{db: db}, nil
}

func (l *BoltLedger) Account(ctx context.Context, userID string) (*Account, error) {
	var acct *Account
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b == nil {
			return errBucketNotFound
		}
		raw := b.Get([]byte(userID))
		if raw == nil {
			return ErrAccountNotFound
		}
		acct = &Account{}
		return json.Unmarshal(raw, acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (l *BoltLedger) EnsureAccount(ctx context.Context, userID string, startingBalance int64) (*Account, error) {
	var acct *Account
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b == nil {
			return errBucketNotFound
		}
		if raw := b.Get([]byte(userID)); raw != nil {
			acct = &Account{}
			return json.Unmarshal(raw, acct)
		}
		acct = &Account{UserID: userID, Balance: startingBalance}
		return putJSON(b, []byte(userID), acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (l *BoltLedger) DebitWagers(ctx context.Context, userID string, roundID int64, amounts [NumLines]int64, total int64) (int64, error) {
	var newBalance int64
	err := l.db.Update(func(tx *bbolt.Tx) error {
		acct, err := readAccount(tx, userID)
		if err != nil {
			return err
		}
		if acct.Balance < total {
			return ErrInsufficientFunds
		}
		acct.Balance -= total
		if err := putJSON(tx.Bucket(bucketAccounts), []byte(userID), acct); err != nil {
			return err
		}

		for i, amt := range amounts {
			if amt == 0 {
				continue
			}
			line := i + 1
			if err := appendEntry(tx, &Entry{
				UserID:      userID,
				Amount:      amt,
				Kind:        KindBet,
				Description: betDescription(roundID, line),
				CreatedAt:   time.Now().UTC(),
			}); err != nil {
				return err
			}
			if err := appendWager(tx, &WagerRecord{
				RoundID: roundID,
				UserID:  userID,
				Line:    line,
				Amount:  amt,
			}); err != nil {
				return err
			}
		}
		newBalance = acct.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (l *BoltLedger) CreditWin(ctx context.Context, userID string, roundID int64, line int, amount int64) (int64, error) {
	var newBalance int64
	err := l.db.Update(func(tx *bbolt.Tx) error {
		acct, err := readAccount(tx, userID)
		if err != nil {
			return err
		}
		acct.Balance += amount
		if err := putJSON(tx.Bucket(bucketAccounts), []byte(userID), acct); err != nil {
			return err
		}
		if err := appendEntry(tx, &Entry{
			UserID:      userID,
			Amount:      amount,
			Kind:        KindWin,
			Description: winDescription(roundID, line),
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
		newBalance = acct.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (l *BoltLedger) RecordRound(ctx context.Context, roundID int64, startTime, endTime time.Time, winningLine int) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRounds)
		if b == nil {
			return errBucketNotFound
		}
		key := itob(uint64(roundID))
		if b.Get(key) != nil {
			// already recorded
			return nil
		}
		return putJSON(b, key, &RoundRecord{
			ID:          roundID,
			StartTime:   startTime.UTC(),
			EndTime:     endTime.UTC(),
			WinningLine: winningLine,
		})
	})
}

func (l *BoltLedger) LastRoundID(ctx context.Context) (int64, error) {
	var last int64
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRounds)
		if b == nil {
			return errBucketNotFound
		}
		key, _ := b.Cursor().Last()
		if key != nil {
			last = int64(binary.BigEndian.Uint64(key))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

func (l *BoltLedger) Close() error {
	return l.db.Close()
}

func readAccount(tx *bbolt.Tx, userID string) (*Account, error) {
	b := tx.Bucket(bucketAccounts)
	if b == nil {
		return nil, errBucketNotFound
	}
	raw := b.Get([]byte(userID))
	if raw == nil {
		return nil, ErrAccountNotFound
	}
	acct := &Account{}
	if err := json.Unmarshal(raw, acct); err != nil {
		return nil, fmt.Errorf("failed to decode account %s: %w", userID, err)
	}
	return acct, nil
}

func appendEntry(tx *bbolt.Tx, e *Entry) error {
	b := tx.Bucket(bucketEntries)
	if b == nil {
		return errBucketNotFound
	}
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	e.ID = seq
	return putJSON(b, itob(seq), e)
}

func appendWager(tx *bbolt.Tx, w *WagerRecord) error {
	b := tx.Bucket(bucketWagers)
	if b == nil {
		return errBucketNotFound
	}
	rb, err := b.CreateBucketIfNotExists(itob(uint64(w.RoundID)))
	if err != nil {
		return err
	}
	seq, err := rb.NextSequence()
	if err != nil {
		return err
	}
	return putJSON(rb, itob(seq), w)
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	if b == nil {
		return errBucketNotFound
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
