// Package client is a small SDK for the LuckyFive websocket protocol, used
// by the bot and by integration tests. Requests are correlated to replies by
// reqId; everything else the server pushes lands on the Events channel.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

const writeWait = 10 * time.Second

// Config holds what a Client needs to connect.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://127.0.0.1:8080/ws.
	URL string

	Log slog.Logger
}

// AuthError is a rejected authenticate request.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// BetError is a rejected wager operation, carrying the server's error code.
type BetError struct {
	Code   string
	Reason string
}

func (e *BetError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

type Client struct {
	log slog.Logger
	ws  *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Envelope
	readErr error

	events chan protocol.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects and starts the read loop.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("client must have logger")
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	c := &Client{
		log:     cfg.Log,
		ws:      ws,
		pending: make(map[string]chan protocol.Envelope),
		events:  make(chan protocol.Envelope, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events streams server pushes (start_round, freeze_bets, round_result and
// any reply whose request already timed out). The channel closes when the
// connection dies.
func (c *Client) Events() <-chan protocol.Envelope {
	return c.events
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			c.Close()
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warnf("Discarding malformed server message: %v", err)
			continue
		}

		if env.ReqID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.ReqID]
			c.mu.Unlock()
			if ok {
				ch <- env
				continue
			}
		}

		// drop-oldest so a stalled consumer never wedges the read loop
		select {
		case c.events <- env:
		default:
			select {
			case <-c.events:
			default:
			}
			select {
			case c.events <- env:
			default:
			}
		}
	}
}

// request sends one envelope and waits for its correlated reply.
func (c *Client) request(ctx context.Context, msgType string, payload interface{}) (protocol.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	reqID := uuid.NewString()

	ch := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	frame, err := json.Marshal(protocol.Envelope{Type: msgType, ReqID: reqID, Data: data})
	if err != nil {
		return protocol.Envelope{}, err
	}
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("send %s: %w", msgType, err)
	}

	select {
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("connection closed")
		}
		return protocol.Envelope{}, err
	case reply := <-ch:
		return reply, nil
	}
}

// Authenticate presents a bearer token and returns the bound identity plus
// the advisory balance.
func (c *Client) Authenticate(ctx context.Context, token string) (protocol.AuthenticatedPayload, error) {
	reply, err := c.request(ctx, protocol.TypeAuthenticate, protocol.AuthenticateRequest{Token: token})
	if err != nil {
		return protocol.AuthenticatedPayload{}, err
	}
	switch reply.Type {
	case protocol.TypeAuthenticated:
		var p protocol.AuthenticatedPayload
		if err := json.Unmarshal(reply.Data, &p); err != nil {
			return protocol.AuthenticatedPayload{}, fmt.Errorf("decode authenticated: %w", err)
		}
		return p, nil
	case protocol.TypeAuthError:
		var p protocol.AuthErrorPayload
		if err := json.Unmarshal(reply.Data, &p); err != nil {
			return protocol.AuthenticatedPayload{}, fmt.Errorf("decode auth_error: %w", err)
		}
		return protocol.AuthenticatedPayload{}, &AuthError{Reason: p.Reason}
	default:
		return protocol.AuthenticatedPayload{}, fmt.Errorf("unexpected reply type %q", reply.Type)
	}
}

// Join returns the current round state.
func (c *Client) Join(ctx context.Context) (protocol.CurrentStatePayload, error) {
	reply, err := c.request(ctx, protocol.TypeJoin, struct{}{})
	if err != nil {
		return protocol.CurrentStatePayload{}, err
	}
	switch reply.Type {
	case protocol.TypeCurrentState:
		var p protocol.CurrentStatePayload
		if err := json.Unmarshal(reply.Data, &p); err != nil {
			return protocol.CurrentStatePayload{}, fmt.Errorf("decode current_state: %w", err)
		}
		return p, nil
	case protocol.TypeBetError:
		return protocol.CurrentStatePayload{}, betErrorFrom(reply.Data)
	default:
		return protocol.CurrentStatePayload{}, fmt.Errorf("unexpected reply type %q", reply.Type)
	}
}

// PlaceBet mutates the provisional wager set. A rejected mutation comes back
// with Success false and the reason in Error; err covers transport failures.
func (c *Client) PlaceBet(ctx context.Context, line int, amount int64, op string) (protocol.PlaceBetAck, error) {
	reply, err := c.request(ctx, protocol.TypePlaceBet, protocol.PlaceBetRequest{Line: line, Amount: amount, Op: op})
	if err != nil {
		return protocol.PlaceBetAck{}, err
	}
	switch reply.Type {
	case protocol.TypePlaceBetAck:
		var p protocol.PlaceBetAck
		if err := json.Unmarshal(reply.Data, &p); err != nil {
			return protocol.PlaceBetAck{}, fmt.Errorf("decode place_bet_ack: %w", err)
		}
		return p, nil
	case protocol.TypeBetError:
		return protocol.PlaceBetAck{}, betErrorFrom(reply.Data)
	default:
		return protocol.PlaceBetAck{}, fmt.Errorf("unexpected reply type %q", reply.Type)
	}
}

// SubmitFinalBets submits the final wager set for the round and returns the
// post-debit balance. Rejections come back as *BetError.
func (c *Client) SubmitFinalBets(ctx context.Context, roundID int64, wagers [protocol.NumLines]int64, total int64) (int64, error) {
	reply, err := c.request(ctx, protocol.TypeSubmitFinalBets, protocol.SubmitFinalBetsRequest{
		RoundID: roundID,
		Wagers:  wagers,
		Total:   total,
	})
	if err != nil {
		return 0, err
	}
	switch reply.Type {
	case protocol.TypeBetAccepted:
		var p protocol.BetAcceptedPayload
		if err := json.Unmarshal(reply.Data, &p); err != nil {
			return 0, fmt.Errorf("decode bet_accepted: %w", err)
		}
		return p.NewBalance, nil
	case protocol.TypeBetError:
		return 0, betErrorFrom(reply.Data)
	default:
		return 0, fmt.Errorf("unexpected reply type %q", reply.Type)
	}
}

func betErrorFrom(data json.RawMessage) error {
	var p protocol.BetErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode bet_error: %w", err)
	}
	return &BetError{Code: p.Code, Reason: p.Reason}
}
