package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abhishek-72-cmd/LuckyFive-server/fivegame"
	"github.com/abhishek-72-cmd/LuckyFive-server/ledgerdb"
	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

// handleMessage dispatches one decoded client envelope. It runs on the
// connection's read goroutine; anything slow must not hold the round lock.
func (s *Server) handleMessage(ctx context.Context, c *wsConn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAuthenticate:
		s.handleAuthenticate(ctx, c, env)
	case protocol.TypeJoin:
		s.handleJoin(c, env)
	case protocol.TypePlaceBet:
		s.handlePlaceBet(c, env)
	case protocol.TypeSubmitFinalBets:
		s.handleSubmitFinalBets(ctx, c, env)
	default:
		s.log.Debugf("Connection %s sent unknown message type %q", c.id, env.Type)
		s.hub.SendTo(c.id, protocol.Event{
			Type:  protocol.TypeBetError,
			ReqID: env.ReqID,
			Data: protocol.BetErrorPayload{
				Code:   protocol.BetErrServer,
				Reason: fmt.Sprintf("unknown message type %q", env.Type),
			},
		})
	}
}

func (s *Server) handleAuthenticate(ctx context.Context, c *wsConn, env protocol.Envelope) {
	var req protocol.AuthenticateRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		s.metrics.authFailures.Inc()
		s.sendAuthError(c, env.ReqID, "malformed authenticate request")
		return
	}

	userID, err := s.verifier.VerifyToken(req.Token)
	if err != nil {
		s.metrics.authFailures.Inc()
		s.log.Debugf("Connection %s failed authentication: %v", c.id, err)
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		s.sendAuthError(c, env.ReqID, reason)
		return
	}

	acct, err := s.resolveAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ledgerdb.ErrAccountNotFound) {
			s.metrics.authFailures.Inc()
			s.log.Debugf("Connection %s presented a token for unknown account %s", c.id, userID)
			s.sendAuthError(c, env.ReqID, "unknown account")
			return
		}
		s.log.Errorf("Failed to resolve account for user %s: %v", userID, err)
		s.sendAuthError(c, env.ReqID, "account unavailable")
		return
	}

	s.sessions.Bind(c.id, userID, acct.Balance)
	s.log.Infof("Connection %s authenticated as user %s", c.id, userID)
	s.hub.SendTo(c.id, protocol.Event{
		Type:  protocol.TypeAuthenticated,
		ReqID: env.ReqID,
		Data: protocol.AuthenticatedPayload{
			UserID:  userID,
			Balance: acct.Balance,
		},
	})
}

// resolveAccount looks up the user's account. With a positive configured
// starting balance, first authentication creates the account; otherwise only
// pre-provisioned accounts may play.
func (s *Server) resolveAccount(ctx context.Context, userID string) (*ledgerdb.Account, error) {
	if s.cfg.StartingBalance > 0 {
		return s.ledger.EnsureAccount(ctx, userID, s.cfg.StartingBalance)
	}
	return s.ledger.Account(ctx, userID)
}

func (s *Server) sendAuthError(c *wsConn, reqID, reason string) {
	s.hub.SendTo(c.id, protocol.Event{
		Type:  protocol.TypeAuthError,
		ReqID: reqID,
		Data:  protocol.AuthErrorPayload{Reason: reason},
	})
}

// handleJoin answers with the current round state. Join is allowed before
// authentication so spectating clients can render the countdown.
func (s *Server) handleJoin(c *wsConn, env protocol.Envelope) {
	state, ok := s.scheduler.CurrentState()
	if !ok {
		s.hub.SendTo(c.id, protocol.Event{
			Type:  protocol.TypeBetError,
			ReqID: env.ReqID,
			Data: protocol.BetErrorPayload{
				Code:   protocol.BetErrServer,
				Reason: "no active round",
			},
		})
		return
	}
	s.hub.SendTo(c.id, protocol.Event{
		Type:  protocol.TypeCurrentState,
		ReqID: env.ReqID,
		Data:  state,
	})
}

func (s *Server) handlePlaceBet(c *wsConn, env protocol.Envelope) {
	if _, ok := s.requireSession(c, env.ReqID); !ok {
		return
	}

	var req protocol.PlaceBetRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		s.sendPlaceBetAck(c, env.ReqID, fivegame.WagerSet{}, "malformed place_bet request")
		return
	}

	wagers, err := s.scheduler.PlaceBet(c.id, req.Line, req.Amount, req.Op)
	if err != nil {
		s.sendPlaceBetAck(c, env.ReqID, fivegame.WagerSet{}, err.Error())
		return
	}
	s.sendPlaceBetAck(c, env.ReqID, wagers, "")
}

func (s *Server) sendPlaceBetAck(c *wsConn, reqID string, wagers fivegame.WagerSet, errMsg string) {
	s.hub.SendTo(c.id, protocol.Event{
		Type:  protocol.TypePlaceBetAck,
		ReqID: reqID,
		Data: protocol.PlaceBetAck{
			Success: errMsg == "",
			Wagers:  wagers,
			Error:   errMsg,
		},
	})
}

func (s *Server) handleSubmitFinalBets(ctx context.Context, c *wsConn, env protocol.Envelope) {
	sess, ok := s.requireSession(c, env.ReqID)
	if !ok {
		return
	}

	var req protocol.SubmitFinalBetsRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		s.sendBetError(c, env.ReqID, protocol.BetErrInvalidWager, "malformed submit_final_bets request")
		return
	}

	balance, err := s.scheduler.FinalizeWagers(ctx, c.id, sess.UserID, req.RoundID, fivegame.WagerSet(req.Wagers), req.Total)
	if err != nil {
		code, reason := betErrorCode(err)
		if code == protocol.BetErrServer {
			s.log.Errorf("Finalize failed for user %s on round %d: %v", sess.UserID, req.RoundID, err)
		} else {
			s.log.Debugf("Rejected finalize for user %s on round %d: %v", sess.UserID, req.RoundID, err)
		}
		s.sendBetError(c, env.ReqID, code, reason)
		return
	}

	s.sessions.SetBalance(c.id, balance)
	s.metrics.wagersFinalized.Inc()
	s.metrics.amountWagered.Add(float64(req.Total))
	s.log.Debugf("User %s finalized %d on round %d, balance %d", sess.UserID, req.Total, req.RoundID, balance)
	s.hub.SendTo(c.id, protocol.Event{
		Type:  protocol.TypeBetAccepted,
		ReqID: env.ReqID,
		Data:  protocol.BetAcceptedPayload{NewBalance: balance},
	})
}

func (s *Server) sendBetError(c *wsConn, reqID, code, reason string) {
	s.hub.SendTo(c.id, protocol.Event{
		Type:  protocol.TypeBetError,
		ReqID: reqID,
		Data: protocol.BetErrorPayload{
			Code:   code,
			Reason: reason,
		},
	})
}

// requireSession resolves the connection's session or answers with an
// unauthenticated bet_error.
func (s *Server) requireSession(c *wsConn, reqID string) (fivegame.Session, bool) {
	sess, ok := s.sessions.Get(c.id)
	if !ok {
		s.sendBetError(c, reqID, protocol.BetErrUnauthenticated, "authenticate first")
	}
	return sess, ok
}

// betErrorCode maps engine and ledger errors onto wire error codes.
func betErrorCode(err error) (code, reason string) {
	switch {
	case errors.Is(err, fivegame.ErrRoundMismatch):
		return protocol.BetErrRoundMismatch, err.Error()
	case errors.Is(err, fivegame.ErrRoundClosed):
		return protocol.BetErrRoundClosed, err.Error()
	case errors.Is(err, fivegame.ErrAlreadyFinalized):
		return protocol.BetErrAlreadySubmitted, err.Error()
	case errors.Is(err, fivegame.ErrWagerInvalid):
		return protocol.BetErrInvalidWager, err.Error()
	case errors.Is(err, ledgerdb.ErrInsufficientFunds):
		return protocol.BetErrInsufficient, "insufficient funds"
	default:
		return protocol.BetErrServer, "internal error"
	}
}
