package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/slog"

	"github.com/abhishek-72-cmd/LuckyFive-server/client"
	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
	"github.com/abhishek-72-cmd/LuckyFive-server/server"
)

const requestTimeout = 10 * time.Second

// bot wagers a fixed stake every round: add during the open phase, submit on
// the freeze, then watch the result come back.
type bot struct {
	cfg *botConfig
	c   *client.Client
	log slog.Logger

	balance int64
	played  int

	roundID int64
	wagers  [protocol.NumLines]int64
	total   int64
}

func realMain() error {
	cfg, err := loadBotConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.NewBackend(os.Stdout).Logger("BOT")
	log.SetLevel(server.GetDebugLevel(cfg.Debug))

	token, err := client.SignToken(cfg.Secret, cfg.User, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	c, err := client.Dial(ctx, client.Config{URL: cfg.URL, Log: log})
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer c.Close()

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	auth, err := c.Authenticate(callCtx, token)
	cancel()
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	log.Infof("Authenticated as %s with balance %d", auth.UserID, auth.Balance)

	callCtx, cancel = context.WithTimeout(ctx, requestTimeout)
	state, err := c.Join(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	log.Infof("Joined during round %d (open=%v, result in %dms)", state.RoundID, state.IsOpen, state.ResultIn)

	b := &bot{cfg: cfg, c: c, log: log, balance: auth.Balance}
	return b.run(ctx)
}

func (b *bot) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.log.Infof("Interrupted after %d rounds with balance %d", b.played, b.balance)
			return nil
		case ev, ok := <-b.c.Events():
			if !ok {
				return fmt.Errorf("server closed the connection")
			}
			if err := b.handleEvent(ctx, ev); err != nil {
				return err
			}
			if b.cfg.Rounds > 0 && b.played >= b.cfg.Rounds {
				b.log.Infof("Finished %d rounds with balance %d", b.played, b.balance)
				return nil
			}
		}
	}
}

func (b *bot) handleEvent(ctx context.Context, ev protocol.Envelope) error {
	switch ev.Type {
	case protocol.TypeStartRound:
		var p protocol.StartRoundPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode start_round: %w", err)
		}
		return b.placeWager(ctx, p.RoundID)
	case protocol.TypeFreezeBets:
		var p protocol.FreezeBetsPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode freeze_bets: %w", err)
		}
		return b.submitWager(ctx, p.RoundID)
	case protocol.TypeRoundResult:
		var p protocol.RoundResultPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode round_result: %w", err)
		}
		b.handleResult(p)
	}
	return nil
}

func (b *bot) placeWager(ctx context.Context, roundID int64) error {
	b.roundID = roundID
	b.wagers = [protocol.NumLines]int64{}
	b.total = 0

	if b.balance < b.cfg.Stake {
		b.log.Warnf("Balance %d cannot cover stake %d, sitting out round %d", b.balance, b.cfg.Stake, roundID)
		return nil
	}

	line := b.cfg.Line
	if line == 0 {
		line = rand.Intn(protocol.NumLines) + 1
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	ack, err := b.c.PlaceBet(callCtx, line, b.cfg.Stake, protocol.OpAdd)
	cancel()
	if err != nil {
		return fmt.Errorf("place bet: %w", err)
	}
	if !ack.Success {
		// Typically lost the race with the freeze; wait for the next round.
		b.log.Debugf("Bet on round %d refused: %s", roundID, ack.Error)
		return nil
	}
	b.wagers = ack.Wagers
	b.total = b.cfg.Stake
	b.log.Infof("Wagered %d on line %d of round %d", b.cfg.Stake, line, roundID)
	return nil
}

func (b *bot) submitWager(ctx context.Context, roundID int64) error {
	if b.total == 0 || roundID != b.roundID {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	balance, err := b.c.SubmitFinalBets(callCtx, roundID, b.wagers, b.total)
	cancel()
	if err != nil {
		var betErr *client.BetError
		if errors.As(err, &betErr) {
			b.log.Warnf("Final bets for round %d rejected: %v", roundID, err)
			b.total = 0
			return nil
		}
		return fmt.Errorf("submit final bets: %w", err)
	}
	b.balance = balance
	b.log.Infof("Locked %d on round %d, balance %d", b.total, roundID, balance)
	return nil
}

func (b *bot) handleResult(p protocol.RoundResultPayload) {
	if p.WinAmount != nil {
		if p.NewBalance != nil {
			b.balance = *p.NewBalance
		}
		b.log.Infof("Round %d hit line %d, won %d, balance %d", p.RoundID, p.WinningLine, *p.WinAmount, b.balance)
		return
	}
	if p.RoundID == b.roundID {
		b.played++
		if b.total > 0 {
			b.log.Infof("Round %d resulted on line %d", p.RoundID, p.WinningLine)
		} else {
			b.log.Debugf("Round %d resulted on line %d (no wager)", p.RoundID, p.WinningLine)
		}
	}
}

func main() {
	err := realMain()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
