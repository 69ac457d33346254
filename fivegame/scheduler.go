package fivegame

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"

	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

// debitTimeout bounds the ledger debit that runs between a finalize
// reservation and its commit. The result transition waits on in-flight
// finalizes, so this also bounds how long a round can stall settlement.
const debitTimeout = 5 * time.Second

// Config holds the round timing grid and the payout multiplier.
type Config struct {
	// RoundDuration is the full grid period between round starts.
	RoundDuration time.Duration

	// FreezeOffset is how long after start the round stays OPEN.
	FreezeOffset time.Duration

	// ResultOffset is how long after freeze the result fires.
	ResultOffset time.Duration

	// WinMultiplier scales the stake on the winning line into the payout.
	WinMultiplier int64
}

// DefaultConfig returns the production grid: 30s rounds, 20s open, result 7s
// after freeze, 5x payout.
func DefaultConfig() Config {
	return Config{
		RoundDuration: 30 * time.Second,
		FreezeOffset:  20 * time.Second,
		ResultOffset:  7 * time.Second,
		WinMultiplier: 5,
	}
}

func (c Config) Validate() error {
	if c.RoundDuration <= 0 {
		return fmt.Errorf("round duration must be positive, got %s", c.RoundDuration)
	}
	if c.FreezeOffset <= 0 {
		return fmt.Errorf("freeze offset must be positive, got %s", c.FreezeOffset)
	}
	if c.ResultOffset <= 0 {
		return fmt.Errorf("result offset must be positive, got %s", c.ResultOffset)
	}
	if c.FreezeOffset+c.ResultOffset > c.RoundDuration {
		return fmt.Errorf("freeze offset %s + result offset %s exceeds round duration %s",
			c.FreezeOffset, c.ResultOffset, c.RoundDuration)
	}
	if c.WinMultiplier <= 0 {
		return fmt.Errorf("win multiplier must be positive, got %d", c.WinMultiplier)
	}
	return nil
}

// Scheduler owns the round lifecycle. A single Run loop drives every phase
// transition; handlers only ever mutate the current round through PlaceBet
// and FinalizeWagers. Transitions are guarded by generation so a stale fire
// can never touch a successor round.
type Scheduler struct {
	mu  sync.RWMutex
	cfg Config
	log slog.Logger

	ledger     Ledger
	settlement *Settlement
	notifier   Notifier

	current *Round

	roundsSettled  atomic.Int64
	settleFailures atomic.Int64

	// now is the clock used for grid math. Overridable in tests.
	now func() time.Time
}

func NewScheduler(cfg Config, ledger Ledger, settlement *Settlement, notifier Notifier, log slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid round config: %w", err)
	}
	return &Scheduler{
		cfg:        cfg,
		log:        log,
		ledger:     ledger,
		settlement: settlement,
		notifier:   notifier,
		now:        time.Now,
	}, nil
}

// alignStart fast-forwards base along the grid by whole multiples of period
// until the round containing it has not already ended. The returned instant
// always satisfies start+period > now and (start-base) % period == 0.
func alignStart(base, now time.Time, period time.Duration) time.Time {
	if base.Add(period).After(now) {
		return base
	}
	steps := now.Sub(base) / period
	start := base.Add(steps * period)
	if !start.Add(period).After(now) {
		start = start.Add(period)
	}
	return start
}

// CurrentRound returns the round handlers should target, or nil before the
// loop has seeded one.
func (s *Scheduler) CurrentRound() *Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Scheduler) setCurrent(r *Round) {
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()
}

// Run drives the round loop until ctx is canceled. The first round starts on
// the next grid boundary after now; its generation continues from the last
// persisted round so identifiers stay monotonic across restarts.
func (s *Scheduler) Run(ctx context.Context) error {
	lastID, err := s.ledger.LastRoundID(ctx)
	if err != nil {
		return fmt.Errorf("seed round generation: %w", err)
	}

	now := s.now()
	start := now.Truncate(s.cfg.RoundDuration).Add(s.cfg.RoundDuration)
	r := NewRound(lastID+1, start, s.cfg)
	s.setCurrent(r)
	s.log.Infof("Round %d scheduled: start %s, freeze %s, result %s",
		r.Generation(), r.StartTime().Format(time.RFC3339),
		r.FreezeTime().Format(time.RFC3339), r.ResultTime().Format(time.RFC3339))

	for {
		r = s.CurrentRound()

		if !s.sleepUntil(ctx, r.StartTime()) {
			return ctx.Err()
		}
		s.broadcastStart(r)

		if !s.sleepUntil(ctx, r.FreezeTime()) {
			return ctx.Err()
		}
		s.FireFreeze(r.Generation())

		if !s.sleepUntil(ctx, r.ResultTime()) {
			return ctx.Err()
		}
		s.FireResult(ctx, r.Generation())

		s.rollover()
	}
}

// sleepUntil blocks until the wall clock reaches t or ctx is canceled.
// Returns false only on cancellation; a deadline already in the past fires
// immediately.
func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) bool {
	d := t.Sub(s.now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) broadcastStart(r *Round) {
	now := s.now()
	s.notifier.Broadcast(protocol.Event{
		Type: protocol.TypeStartRound,
		Data: protocol.StartRoundPayload{
			RoundID:    r.Generation(),
			ServerTime: now.UnixMilli(),
			FreezeIn:   r.FreezeTime().Sub(now).Milliseconds(),
			ResultIn:   r.ResultTime().Sub(now).Milliseconds(),
		},
	})
}

// FireFreeze moves the round to FROZEN and broadcasts it. A fire for a round
// that is no longer current, or that has already left OPEN, is a no-op.
func (s *Scheduler) FireFreeze(gen int64) {
	r := s.CurrentRound()
	if r == nil || r.Generation() != gen {
		s.log.Debugf("Ignoring stale freeze fire for round %d", gen)
		return
	}
	if !r.freeze() {
		s.log.Debugf("Round %d already left OPEN, skipping freeze", gen)
		return
	}
	s.log.Debugf("Round %d frozen", gen)
	s.notifier.Broadcast(protocol.Event{
		Type: protocol.TypeFreezeBets,
		Data: protocol.FreezeBetsPayload{
			RoundID:    gen,
			ServerTime: s.now().UnixMilli(),
		},
	})
}

// FireResult moves the round to RESULTED, waits out in-flight finalize
// debits, then settles. Stale or duplicate fires are no-ops.
func (s *Scheduler) FireResult(ctx context.Context, gen int64) {
	r := s.CurrentRound()
	if r == nil || r.Generation() != gen {
		s.log.Debugf("Ignoring stale result fire for round %d", gen)
		return
	}
	if !r.beginResult() {
		s.log.Debugf("Round %d not frozen, skipping result", gen)
		return
	}
	r.waitFinalizers()
	if err := s.settlement.Settle(ctx, r); err != nil {
		s.settleFailures.Add(1)
		s.log.Errorf("Failed to settle round %d: %v", gen, err)
		return
	}
	s.roundsSettled.Add(1)
}

// RoundsSettled reports how many rounds this scheduler has drawn and settled.
func (s *Scheduler) RoundsSettled() int64 { return s.roundsSettled.Load() }

// SettlementErrors reports how many round settlements failed outright.
func (s *Scheduler) SettlementErrors() int64 { return s.settleFailures.Load() }

// rollover replaces the settled round with its successor. The next start is
// the current round's start plus one period, fast-forwarded along the grid
// if settlement overran; it is never derived from the current wall clock, so
// boundaries stay aligned no matter how late the loop runs.
func (s *Scheduler) rollover() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current
	next := alignStart(cur.NextStartTime(), s.now(), s.cfg.RoundDuration)
	if skipped := next.Sub(cur.NextStartTime()) / s.cfg.RoundDuration; skipped > 0 {
		s.log.Warnf("Round loop fell behind, skipping %d grid slots", skipped)
	}

	r := NewRound(cur.Generation()+1, next, s.cfg)
	s.current = r
	s.log.Infof("Round %d scheduled: start %s, freeze %s, result %s",
		r.Generation(), r.StartTime().Format(time.RFC3339),
		r.FreezeTime().Format(time.RFC3339), r.ResultTime().Format(time.RFC3339))
}

// PlaceBet applies a provisional wager mutation to the current round.
func (s *Scheduler) PlaceBet(connID string, line int, amount int64, op string) (WagerSet, error) {
	r := s.CurrentRound()
	if r == nil {
		return WagerSet{}, fmt.Errorf("%w: no active round", ErrRoundClosed)
	}
	return r.Place(connID, line, amount, op)
}

// FinalizeWagers submits a connection's final wager set: it reserves the
// connection's finalize slot on the round, debits the stake atomically, then
// commits the snapshot for settlement. On a failed debit the reservation is
// rolled back and the round is untouched. Returns the post-debit balance.
func (s *Scheduler) FinalizeWagers(ctx context.Context, connID, userID string, roundID int64, amounts WagerSet, total int64) (int64, error) {
	r := s.CurrentRound()
	if r == nil {
		return 0, fmt.Errorf("%w: no active round", ErrRoundMismatch)
	}
	if err := r.reserveFinalize(connID, roundID, amounts, total); err != nil {
		return 0, err
	}

	dctx, cancel := context.WithTimeout(ctx, debitTimeout)
	defer cancel()
	balance, err := s.ledger.DebitWagers(dctx, userID, r.Generation(), [NumLines]int64(amounts), total)
	if err != nil {
		r.abortFinalize(connID)
		return 0, err
	}

	r.commitFinalize(connID, WagerSnapshot{
		UserID:  userID,
		Amounts: amounts,
		Total:   total,
	})
	return balance, nil
}

// CurrentState describes the current round for a joining client.
func (s *Scheduler) CurrentState() (protocol.CurrentStatePayload, bool) {
	r := s.CurrentRound()
	if r == nil {
		return protocol.CurrentStatePayload{}, false
	}
	now := s.now()
	freezeIn := r.FreezeTime().Sub(now).Milliseconds()
	if freezeIn < 0 {
		freezeIn = 0
	}
	resultIn := r.ResultTime().Sub(now).Milliseconds()
	if resultIn < 0 {
		resultIn = 0
	}
	return protocol.CurrentStatePayload{
		RoundID:    r.Generation(),
		ServerTime: now.UnixMilli(),
		FreezeIn:   freezeIn,
		ResultIn:   resultIn,
		IsOpen:     r.Phase() == PhaseOpen,
	}, true
}
