package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bfalabs/bfa-assistant/internal/app"
	"github.com/bfalabs/bfa-assistant/internal/config"
)

const janitorInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address, overrides APP_BIND_ADDR")
	_ = viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if addr := viper.GetString("addr"); addr != "" {
		cfg.BindAddr = addr
	}
	if lvl := viper.GetString("log_level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger := newLogger(cfg.LogLevel)

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	built.Sessions.StartJanitor(runCtx, janitorInterval)

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr, "llm", cfg.LLMMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err, ok := <-listenErr:
		if ok && err != nil {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	case <-sigCh:
		logger.Info("shutdown signal received")
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}
