package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/decred/slog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abhishek-72-cmd/LuckyFive-server/fivegame"
	"github.com/abhishek-72-cmd/LuckyFive-server/ledgerdb"
	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

func TestBetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"round mismatch", fmt.Errorf("%w: round 7 is no longer current", fivegame.ErrRoundMismatch), protocol.BetErrRoundMismatch},
		{"round closed", fmt.Errorf("%w: betting is still open", fivegame.ErrRoundClosed), protocol.BetErrRoundClosed},
		{"already submitted", fivegame.ErrAlreadyFinalized, protocol.BetErrAlreadySubmitted},
		{"invalid wager", fmt.Errorf("%w: negative amount", fivegame.ErrWagerInvalid), protocol.BetErrInvalidWager},
		{"insufficient funds", fmt.Errorf("debit wagers: %w", ledgerdb.ErrInsufficientFunds), protocol.BetErrInsufficient},
		{"unknown", errors.New("boom"), protocol.BetErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason := betErrorCode(tt.err)
			if code != tt.code {
				t.Fatalf("code = %q, want %q", code, tt.code)
			}
			if reason == "" {
				t.Fatal("reason must not be empty")
			}
		})
	}
}

func newTestHub() *hub {
	return newHub(slog.Disabled, newServerMetrics(prometheus.NewRegistry()))
}

func newTestConn(id string, buffer int) *wsConn {
	return &wsConn{
		id:   id,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func TestHubSendToUnknownConn(t *testing.T) {
	h := newTestHub()
	// Must neither panic nor block.
	h.SendTo("nobody", protocol.Event{Type: protocol.TypeFreezeBets})
}

func TestHubBroadcastFanout(t *testing.T) {
	h := newTestHub()
	a := newTestConn("a", 1)
	b := newTestConn("b", 1)
	h.add(a)
	h.add(b)

	h.Broadcast(protocol.Event{
		Type: protocol.TypeStartRound,
		Data: protocol.StartRoundPayload{RoundID: 7},
	})

	for _, c := range []*wsConn{a, b} {
		select {
		case raw := <-c.send:
			var env protocol.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("decode frame for %s: %v", c.id, err)
			}
			if env.Type != protocol.TypeStartRound {
				t.Fatalf("conn %s got %q, want %q", c.id, env.Type, protocol.TypeStartRound)
			}
			var payload protocol.StartRoundPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				t.Fatalf("decode payload for %s: %v", c.id, err)
			}
			if payload.RoundID != 7 {
				t.Fatalf("conn %s got round %d, want 7", c.id, payload.RoundID)
			}
		default:
			t.Fatalf("conn %s received nothing", c.id)
		}
	}
}

func TestHubSlowConnDropsEvents(t *testing.T) {
	h := newTestHub()
	c := newTestConn("slow", 1)
	h.add(c)

	h.SendTo("slow", protocol.Event{Type: protocol.TypeFreezeBets, Data: protocol.FreezeBetsPayload{RoundID: 1}})
	// The buffer is full now; the next event must be dropped, not block.
	h.SendTo("slow", protocol.Event{Type: protocol.TypeRoundResult, Data: protocol.RoundResultPayload{RoundID: 1}})

	var env protocol.Envelope
	if err := json.Unmarshal(<-c.send, &env); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if env.Type != protocol.TypeFreezeBets {
		t.Fatalf("kept frame is %q, want %q", env.Type, protocol.TypeFreezeBets)
	}
	select {
	case extra := <-c.send:
		t.Fatalf("expected drop, got extra frame %s", extra)
	default:
	}
}

func TestHubRemoveIdempotent(t *testing.T) {
	h := newTestHub()
	c := newTestConn("x", 1)
	h.add(c)
	h.remove("x")
	h.remove("x")

	select {
	case <-c.done:
	default:
		t.Fatal("done channel not closed after remove")
	}

	h.SendTo("x", protocol.Event{Type: protocol.TypeFreezeBets})
	select {
	case <-c.send:
		t.Fatal("removed connection still received an event")
	default:
	}
}

func TestGetDebugLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", slog.LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		if got := GetDebugLevel(tt.in); got != tt.want {
			t.Fatalf("GetDebugLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
