package fivegame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhishek-72-cmd/LuckyFive-server/ledgerdb"
	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

type creditCall struct {
	userID string
	round  int64
	line   int
	amount int64
}

// fakeLedger is an in-memory Ledger for engine tests.
type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	debits    int
	credits   []creditCall
	rounds    map[int64]int
	lastID    int64
	creditErr map[string]error
	recordErr error
}

func newFakeLedger(balances map[string]int64) *fakeLedger {
	fl := &fakeLedger{
		balances:  make(map[string]int64),
		rounds:    make(map[int64]int),
		creditErr: make(map[string]error),
	}
	for userID, bal := range balances {
		fl.balances[userID] = bal
	}
	return fl
}

func (fl *fakeLedger) DebitWagers(_ context.Context, userID string, _ int64, _ [NumLines]int64, total int64) (int64, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	bal, ok := fl.balances[userID]
	if !ok {
		return 0, ledgerdb.ErrAccountNotFound
	}
	if bal < total {
		return 0, ledgerdb.ErrInsufficientFunds
	}
	fl.balances[userID] = bal - total
	fl.debits++
	return bal - total, nil
}

func (fl *fakeLedger) CreditWin(_ context.Context, userID string, roundID int64, line int, amount int64) (int64, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if err := fl.creditErr[userID]; err != nil {
		return 0, err
	}
	fl.balances[userID] += amount
	fl.credits = append(fl.credits, creditCall{userID: userID, round: roundID, line: line, amount: amount})
	return fl.balances[userID], nil
}

func (fl *fakeLedger) RecordRound(_ context.Context, roundID int64, _, _ time.Time, winningLine int) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.recordErr != nil {
		return fl.recordErr
	}
	if _, ok := fl.rounds[roundID]; !ok {
		fl.rounds[roundID] = winningLine
	}
	return nil
}

func (fl *fakeLedger) LastRoundID(_ context.Context) (int64, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.lastID, nil
}

func (fl *fakeLedger) balance(userID string) int64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.balances[userID]
}

func (fl *fakeLedger) creditCount() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return len(fl.credits)
}

type sentEvent struct {
	connID string
	event  protocol.Event
}

// recordingNotifier captures events for assertions.
type recordingNotifier struct {
	mu         sync.Mutex
	targeted   []sentEvent
	broadcasts []protocol.Event
}

func (n *recordingNotifier) SendTo(connID string, event protocol.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targeted = append(n.targeted, sentEvent{connID: connID, event: event})
}

func (n *recordingNotifier) Broadcast(event protocol.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, event)
}

func (n *recordingNotifier) broadcastsOf(typ string) []protocol.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []protocol.Event
	for _, ev := range n.broadcasts {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (n *recordingNotifier) sentTo(connID string) []protocol.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []protocol.Event
	for _, se := range n.targeted {
		if se.connID == connID {
			out = append(out, se.event)
		}
	}
	return out
}

func newTestSettlement(fl *fakeLedger, sr *SessionRegistry, rn *recordingNotifier, line int) *Settlement {
	se := NewSettlement(fl, sr, rn, 5, slog.Disabled)
	se.draw = func() (int, error) { return line, nil }
	return se
}

// finalizeOn stamps a committed snapshot onto a frozen round.
func finalizeOn(t *testing.T, r *Round, connID, userID string, amounts WagerSet) {
	t.Helper()
	require.NoError(t, r.reserveFinalize(connID, r.Generation(), amounts, amounts.Total()))
	r.commitFinalize(connID, WagerSnapshot{UserID: userID, Amounts: amounts, Total: amounts.Total()})
}

func TestSettleWinnerPaid(t *testing.T) {
	fl := newFakeLedger(map[string]int64{"alice": 900})
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 900)
	rn := &recordingNotifier{}
	se := newTestSettlement(fl, sr, rn, 3)

	r := newTestRound(12)
	require.True(t, r.freeze())
	finalizeOn(t, r, "conn-a", "alice", WagerSet{0, 0, 100, 0, 0})
	require.True(t, r.beginResult())

	require.NoError(t, se.Settle(context.Background(), r))

	// stake on the winning line pays 5x
	assert.Equal(t, 3, r.WinningLine())
	assert.Equal(t, int64(1400), fl.balance("alice"))
	require.Len(t, fl.credits, 1)
	assert.Equal(t, creditCall{userID: "alice", round: 12, line: 3, amount: 500}, fl.credits[0])
	assert.Equal(t, 3, fl.rounds[12])

	// everyone sees the outcome, the winner also gets the personal copy
	bcasts := rn.broadcastsOf(protocol.TypeRoundResult)
	require.Len(t, bcasts, 1)
	payload := bcasts[0].Data.(protocol.RoundResultPayload)
	assert.Equal(t, int64(12), payload.RoundID)
	assert.Equal(t, 3, payload.WinningLine)
	assert.Nil(t, payload.WinAmount)

	personal := rn.sentTo("conn-a")
	require.Len(t, personal, 1)
	won := personal[0].Data.(protocol.RoundResultPayload)
	require.NotNil(t, won.WinAmount)
	require.NotNil(t, won.NewBalance)
	assert.Equal(t, int64(500), *won.WinAmount)
	assert.Equal(t, int64(1400), *won.NewBalance)

	// cached advisory balance refreshed
	sess, ok := sr.Get("conn-a")
	require.True(t, ok)
	assert.Equal(t, int64(1400), sess.Balance)
}

func TestSettleLoserNotCredited(t *testing.T) {
	fl := newFakeLedger(map[string]int64{"alice": 900})
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 900)
	rn := &recordingNotifier{}
	se := newTestSettlement(fl, sr, rn, 3)

	r := newTestRound(13)
	require.True(t, r.freeze())
	finalizeOn(t, r, "conn-a", "alice", WagerSet{100, 0, 0, 0, 0})
	require.True(t, r.beginResult())

	require.NoError(t, se.Settle(context.Background(), r))

	assert.Equal(t, int64(900), fl.balance("alice"))
	assert.Zero(t, fl.creditCount())
	assert.Empty(t, rn.sentTo("conn-a"))
	// losers still learn the outcome from the broadcast
	assert.Len(t, rn.broadcastsOf(protocol.TypeRoundResult), 1)
	assert.Equal(t, 3, fl.rounds[13])
}

func TestSettleFailureIsolation(t *testing.T) {
	fl := newFakeLedger(map[string]int64{"alice": 400, "bob": 60})
	fl.creditErr["alice"] = errors.New("ledger down")
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 400)
	sr.Bind("conn-b", "bob", 60)
	rn := &recordingNotifier{}
	se := newTestSettlement(fl, sr, rn, 3)

	r := newTestRound(14)
	require.True(t, r.freeze())
	finalizeOn(t, r, "conn-a", "alice", WagerSet{0, 0, 100, 0, 0})
	finalizeOn(t, r, "conn-b", "bob", WagerSet{0, 0, 40, 0, 0})
	require.True(t, r.beginResult())

	require.NoError(t, se.Settle(context.Background(), r))

	// alice's failed credit must not block bob's payout
	assert.Equal(t, int64(400), fl.balance("alice"))
	assert.Equal(t, int64(260), fl.balance("bob"))
	require.Len(t, fl.credits, 1)
	assert.Equal(t, "bob", fl.credits[0].userID)

	assert.Empty(t, rn.sentTo("conn-a"))
	assert.Len(t, rn.sentTo("conn-b"), 1)
	assert.Equal(t, 3, fl.rounds[14])
}

func TestSettleEmptyRoundStillRecorded(t *testing.T) {
	fl := newFakeLedger(nil)
	rn := &recordingNotifier{}
	se := newTestSettlement(fl, NewSessionRegistry(), rn, 3)

	r := newTestRound(15)
	require.True(t, r.freeze())
	require.True(t, r.beginResult())

	require.NoError(t, se.Settle(context.Background(), r))

	assert.Equal(t, 3, fl.rounds[15])
	assert.Zero(t, fl.creditCount())
	assert.Len(t, rn.broadcastsOf(protocol.TypeRoundResult), 1)
}

func TestSettleRecordFailureStillPays(t *testing.T) {
	fl := newFakeLedger(map[string]int64{"alice": 900})
	fl.recordErr = errors.New("ledger down")
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 900)
	rn := &recordingNotifier{}
	se := newTestSettlement(fl, sr, rn, 2)

	r := newTestRound(16)
	require.True(t, r.freeze())
	finalizeOn(t, r, "conn-a", "alice", WagerSet{0, 50, 0, 0, 0})
	require.True(t, r.beginResult())

	require.NoError(t, se.Settle(context.Background(), r))
	assert.Equal(t, int64(1150), fl.balance("alice"))
	assert.Len(t, rn.sentTo("conn-a"), 1)
}

func TestSettleDisconnectedWinnerStillPaid(t *testing.T) {
	fl := newFakeLedger(map[string]int64{"alice": 900})
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 900)
	rn := &recordingNotifier{}
	se := newTestSettlement(fl, sr, rn, 3)

	r := newTestRound(19)
	require.True(t, r.freeze())
	finalizeOn(t, r, "conn-a", "alice", WagerSet{0, 0, 100, 0, 0})
	require.True(t, r.beginResult())

	// alice drops before results; the committed snapshot still pays out
	sr.Remove("conn-a")

	require.NoError(t, se.Settle(context.Background(), r))

	assert.Equal(t, int64(1400), fl.balance("alice"))
	require.Len(t, fl.credits, 1)
	assert.Empty(t, rn.sentTo("conn-a"))
	assert.Len(t, rn.broadcastsOf(protocol.TypeRoundResult), 1)
}

func TestSettleNotifiesEverySessionOfWinner(t *testing.T) {
	fl := newFakeLedger(map[string]int64{"alice": 180})
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 180)
	sr.Bind("conn-b", "alice", 180)
	rn := &recordingNotifier{}
	se := newTestSettlement(fl, sr, rn, 2)

	r := newTestRound(17)
	require.True(t, r.freeze())
	// only conn-a finalized, but alice is watching from both connections
	finalizeOn(t, r, "conn-a", "alice", WagerSet{0, 20, 0, 0, 0})
	require.True(t, r.beginResult())

	require.NoError(t, se.Settle(context.Background(), r))

	assert.Equal(t, int64(280), fl.balance("alice"))
	assert.Len(t, rn.sentTo("conn-a"), 1)
	assert.Len(t, rn.sentTo("conn-b"), 1)

	for _, connID := range []string{"conn-a", "conn-b"} {
		sess, ok := sr.Get(connID)
		require.True(t, ok)
		assert.Equal(t, int64(280), sess.Balance)
	}
}

func TestSettleDrawFailure(t *testing.T) {
	fl := newFakeLedger(nil)
	rn := &recordingNotifier{}
	se := newTestSettlement(fl, NewSessionRegistry(), rn, 1)
	se.draw = func() (int, error) { return 0, errors.New("entropy exhausted") }

	r := newTestRound(18)
	require.True(t, r.freeze())
	require.True(t, r.beginResult())

	err := se.Settle(context.Background(), r)
	require.Error(t, err)
	assert.Empty(t, rn.broadcasts)
	assert.Empty(t, fl.rounds)
}

func TestDrawLineRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		line, err := drawLine()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, line, 1)
		assert.LessOrEqual(t, line, NumLines)
	}
}
