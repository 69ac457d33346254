package fivegame

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

// NumLines is the number of wagering lines in every round.
const NumLines = protocol.NumLines

var (
	ErrRoundClosed      = errors.New("round closed for wagers")
	ErrRoundMismatch    = errors.New("round mismatch")
	ErrAlreadyFinalized = errors.New("wagers already finalized")
	ErrWagerInvalid     = errors.New("invalid wager")
)

// Phase is the round lifecycle state. It only ever moves forward.
type Phase int32

const (
	PhaseOpen Phase = iota
	PhaseFrozen
	PhaseResulted
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseFrozen:
		return "frozen"
	case PhaseResulted:
		return "resulted"
	default:
		return fmt.Sprintf("unknown(%d)", int32(p))
	}
}

// WagerSet holds a connection's provisional stakes, line n at index n-1.
type WagerSet [NumLines]int64

func (w WagerSet) Total() int64 {
	var total int64
	for _, amt := range w {
		total += amt
	}
	return total
}

// WagerSnapshot is an immutable, already-debited copy of a connection's
// stakes, eligible for payout.
type WagerSnapshot struct {
	UserID  string
	Amounts WagerSet
	Total   int64
}

// Round is the unit of play. One lock guards all mutable state; callers
// never see the internal maps directly.
type Round struct {
	sync.RWMutex

	gen           int64
	startTime     time.Time
	freezeTime    time.Time
	resultTime    time.Time
	nextStartTime time.Time

	phase       Phase
	winningLine int

	wagers     map[string]*WagerSet
	finalized  map[string]WagerSnapshot
	finalizing map[string]bool
	finWG      sync.WaitGroup
}

// NewRound creates an OPEN round with all phase boundaries precomputed from
// start.
func NewRound(gen int64, start time.Time, cfg Config) *Round {
	freeze := start.Add(cfg.FreezeOffset)
	result := freeze.Add(cfg.ResultOffset)
	return &Round{
		gen:           gen,
		startTime:     start,
		freezeTime:    freeze,
		resultTime:    result,
		nextStartTime: start.Add(cfg.RoundDuration),
		phase:         PhaseOpen,
		wagers:        make(map[string]*WagerSet),
		finalized:     make(map[string]WagerSnapshot),
		finalizing:    make(map[string]bool),
	}
}

func (r *Round) Generation() int64 {
	return r.gen
}

func (r *Round) StartTime() time.Time {
	return r.startTime
}

func (r *Round) FreezeTime() time.Time {
	return r.freezeTime
}

func (r *Round) ResultTime() time.Time {
	return r.resultTime
}

func (r *Round) NextStartTime() time.Time {
	return r.nextStartTime
}

func (r *Round) Phase() Phase {
	r.RLock()
	defer r.RUnlock()
	return r.phase
}

// WinningLine returns 0 until the round has been resulted.
func (r *Round) WinningLine() int {
	r.RLock()
	defer r.RUnlock()
	return r.winningLine
}

// Place mutates the connection's provisional wager set. Valid only while the
// round is OPEN; a late mutation is rejected, never silently applied.
func (r *Round) Place(connID string, line int, amount int64, op string) (WagerSet, error) {
	r.Lock()
	defer r.Unlock()

	if r.phase != PhaseOpen {
		return WagerSet{}, ErrRoundClosed
	}
	if line < 1 || line > NumLines {
		return WagerSet{}, fmt.Errorf("%w: line %d out of range", ErrWagerInvalid, line)
	}
	if amount < 0 {
		return WagerSet{}, fmt.Errorf("%w: negative amount", ErrWagerInvalid)
	}

	ws := r.wagers[connID]
	if ws == nil {
		ws = &WagerSet{}
		r.wagers[connID] = ws
	}

	switch op {
	case protocol.OpAdd:
		ws[line-1] += amount
	case protocol.OpRemove:
		ws[line-1] = 0
	default:
		return WagerSet{}, fmt.Errorf("%w: unknown op %q", ErrWagerInvalid, op)
	}

	return *ws, nil
}

// Wagers returns a copy of the connection's provisional set.
func (r *Round) Wagers(connID string) WagerSet {
	r.RLock()
	defer r.RUnlock()
	if ws := r.wagers[connID]; ws != nil {
		return *ws
	}
	return WagerSet{}
}

// reserveFinalize claims the connection's one finalize slot after validating
// the submission. The ledger debit happens outside the round lock; the
// reservation keeps a second submission or the result transition from racing
// it. Callers must follow up with commitFinalize or abortFinalize.
func (r *Round) reserveFinalize(connID string, gen int64, amounts WagerSet, total int64) error {
	r.Lock()
	defer r.Unlock()

	if gen != r.gen {
		return ErrRoundMismatch
	}
	switch r.phase {
	case PhaseOpen:
		return fmt.Errorf("%w: betting is still open", ErrRoundClosed)
	case PhaseResulted:
		return fmt.Errorf("%w: round already resulted", ErrRoundClosed)
	}
	if r.finalizing[connID] {
		return ErrAlreadyFinalized
	}
	if _, ok := r.finalized[connID]; ok {
		return ErrAlreadyFinalized
	}
	if total <= 0 {
		return fmt.Errorf("%w: total must be positive", ErrWagerInvalid)
	}
	for _, amt := range amounts {
		if amt < 0 {
			return fmt.Errorf("%w: negative amount", ErrWagerInvalid)
		}
	}
	if amounts.Total() != total {
		return fmt.Errorf("%w: total %d does not match wagers", ErrWagerInvalid, total)
	}

	r.finalizing[connID] = true
	r.finWG.Add(1)
	return nil
}

func (r *Round) commitFinalize(connID string, snap WagerSnapshot) {
	r.Lock()
	delete(r.finalizing, connID)
	r.finalized[connID] = snap
	r.Unlock()
	r.finWG.Done()
}

func (r *Round) abortFinalize(connID string) {
	r.Lock()
	delete(r.finalizing, connID)
	r.Unlock()
	r.finWG.Done()
}

// freeze moves OPEN to FROZEN. Returns false if the round had already left
// OPEN, making duplicate freeze fires harmless.
func (r *Round) freeze() bool {
	r.Lock()
	defer r.Unlock()
	if r.phase != PhaseOpen {
		return false
	}
	r.phase = PhaseFrozen
	return true
}

// beginResult moves FROZEN to RESULTED, closing the finalize window. The
// caller must then waitFinalizers before reading the snapshots so in-flight
// debits land on one side of the boundary or the other.
func (r *Round) beginResult() bool {
	r.Lock()
	defer r.Unlock()
	if r.phase != PhaseFrozen {
		return false
	}
	r.phase = PhaseResulted
	return true
}

// waitFinalizers blocks until every reserved finalize has committed or
// aborted.
func (r *Round) waitFinalizers() {
	r.finWG.Wait()
}

func (r *Round) setWinningLine(line int) {
	r.Lock()
	r.winningLine = line
	r.Unlock()
}

// Finalized returns a copy of the finalized snapshots keyed by connection.
func (r *Round) Finalized() map[string]WagerSnapshot {
	r.RLock()
	defer r.RUnlock()
	snaps := make(map[string]WagerSnapshot, len(r.finalized))
	for connID, snap := range r.finalized {
		snaps[connID] = snap
	}
	return snaps
}
