package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

type botConfig struct {
	URL      string
	Secret   string
	User     string
	Stake    int64
	Line     int
	Rounds   int
	Debug    string
	TokenTTL time.Duration
}

func loadBotConfig() (*botConfig, error) {
	cfg := &botConfig{}
	flag.StringVar(&cfg.URL, "url", "ws://127.0.0.1:8080/ws", "websocket endpoint of the luckyfive server")
	flag.StringVar(&cfg.Secret, "secret", "", "shared JWT secret used to sign the session token")
	flag.StringVar(&cfg.User, "user", "bot", "user id to wager as")
	flag.Int64Var(&cfg.Stake, "stake", 10, "amount to wager per round, in minor units")
	flag.IntVar(&cfg.Line, "line", 0, "line to wager on (1-5); 0 picks a random line each round")
	flag.IntVar(&cfg.Rounds, "rounds", 0, "number of rounds to play; 0 plays until interrupted")
	flag.StringVar(&cfg.Debug, "debug", "info", "log level: trace, debug, info, warn, error")
	flag.DurationVar(&cfg.TokenTTL, "tokenttl", 12*time.Hour, "lifetime of the signed session token")
	flag.Parse()

	if cfg.Secret == "" {
		return nil, fmt.Errorf("-secret is required")
	}
	if cfg.Stake <= 0 {
		return nil, fmt.Errorf("-stake must be positive")
	}
	if cfg.Line < 0 || cfg.Line > protocol.NumLines {
		return nil, fmt.Errorf("-line must be between 0 and %d", protocol.NumLines)
	}
	if cfg.Rounds < 0 {
		return nil, fmt.Errorf("-rounds must not be negative")
	}
	return cfg, nil
}
