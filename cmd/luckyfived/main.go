package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/decred/slog"

	"github.com/abhishek-72-cmd/LuckyFive-server/server"
)

func realMain() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.LogBackend = slog.NewBackend(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	return srv.Run(ctx)
}

func main() {
	err := realMain()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
