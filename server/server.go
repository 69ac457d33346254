package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abhishek-72-cmd/LuckyFive-server/fivegame"
	"github.com/abhishek-72-cmd/LuckyFive-server/ledgerdb"
	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

const (
	name    = "luckyfive"
	version = "v0.1.0"
)

// Server ties the websocket transport, the round engine and the ledger
// together.
type Server struct {
	cfg Config
	log slog.Logger

	ledger    ledgerdb.Ledger
	sessions  *fivegame.SessionRegistry
	scheduler *fivegame.Scheduler
	hub       *hub
	verifier  *TokenVerifier
	metrics   *serverMetrics

	httpServer *http.Server
	opsServer  *http.Server
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.LogBackend == nil {
		return nil, fmt.Errorf("log backend is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.LogBackend.Logger("SRVR")
	log.SetLevel(GetDebugLevel(cfg.Debug))
	hubLog := cfg.LogBackend.Logger("HUB")
	hubLog.SetLevel(GetDebugLevel(cfg.Debug))
	schedLog := cfg.LogBackend.Logger("SCHD")
	schedLog.SetLevel(GetDebugLevel(cfg.DebugEngine))
	stlmLog := cfg.LogBackend.Logger("STLM")
	stlmLog.SetLevel(GetDebugLevel(cfg.DebugEngine))

	ledger, err := ledgerdb.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := newServerMetrics(registry)

	s := &Server{
		cfg:      cfg,
		log:      log,
		ledger:   ledger,
		sessions: fivegame.NewSessionRegistry(),
		hub:      newHub(hubLog, metrics),
		verifier: NewTokenVerifier(cfg.JWTSecret),
		metrics:  metrics,
	}

	settlement := fivegame.NewSettlement(ledger, s.sessions, s.hub, cfg.WinMultiplier, stlmLog)
	scheduler, err := fivegame.NewScheduler(cfg.RoundConfig(), ledger, settlement, s.hub, schedLog)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	s.scheduler = scheduler
	registerEngineCollectors(registry, scheduler)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	if cfg.OpsAddr != "" {
		// Operational endpoint, kept off the public listener.
		opsMux := http.NewServeMux()
		opsMux.HandleFunc("/healthz", s.handleHealthz)
		opsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		s.opsServer = &http.Server{
			Addr:    cfg.OpsAddr,
			Handler: opsMux,
		}
	}

	return s, nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.log.Infof("%s server %s listening on %s (db driver %s)",
		name, version, s.cfg.ListenAddr, s.cfg.DBDriver)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	if s.opsServer != nil {
		go func() {
			s.log.Infof("Ops server listening on %s", s.cfg.OpsAddr)
			if err := s.opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Errorf("Ops server error: %v", err)
			}
		}()
	}

	schedErr := make(chan error, 1)
	go func() { schedErr <- s.scheduler.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-schedErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("round loop: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		s.log.Errorf("Error during server shutdown: %v", err)
	}
	return runErr
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.opsServer != nil {
		s.log.Info("Shutting down ops server...")
		if err := s.opsServer.Shutdown(ctx); err != nil {
			s.log.Errorf("Error shutting down ops server: %v", err)
		}
	}

	s.log.Info("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// Shutdown does not touch hijacked websocket connections.
	s.log.Info("Closing client connections...")
	s.hub.closeAll()

	s.log.Info("Closing ledger...")
	if err := s.ledger.Close(); err != nil {
		s.log.Errorf("Error closing ledger: %v", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("Websocket upgrade failed: %v", err)
		return
	}

	c := &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	s.hub.add(c)
	go c.writePump()
	s.log.Debugf("Connection %s opened from %s", c.id, r.RemoteAddr)

	s.readLoop(r.Context(), c)
}

// readLoop owns the connection's read side. It returns when the client goes
// away, cleaning up the session and wager state tied to the connection.
func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() {
		s.hub.remove(c.id)
		s.sessions.Remove(c.id)
		s.log.Debugf("Connection %s closed", c.id)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("Connection %s read error: %v", c.id, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Debugf("Connection %s sent malformed message: %v", c.id, err)
			s.sendBetError(c, "", protocol.BetErrServer, "malformed message")
			continue
		}
		s.handleMessage(ctx, c, env)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state, ok := s.scheduler.CurrentState()
	if !ok {
		http.Error(w, "no active round", http.StatusServiceUnavailable)
		return
	}
	if _, err := s.ledger.LastRoundID(r.Context()); err != nil {
		s.log.Errorf("Health check ledger probe failed: %v", err)
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		RoundID int64  `json:"roundId"`
	}{
		Status:  "ok",
		RoundID: state.RoundID,
	})
}
