package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/outcome-engine/internal/amm"
	"github.com/atmx/outcome-engine/internal/api"
	"github.com/atmx/outcome-engine/internal/clock"
	"github.com/atmx/outcome-engine/internal/config"
	"github.com/atmx/outcome-engine/internal/custody"
	"github.com/atmx/outcome-engine/internal/events"
	"github.com/atmx/outcome-engine/internal/oracle"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ledger := newLedger(cfg, slog.Default())

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := api.NewWSHub()
	go wsHub.Run(hubCtx)

	publisher := events.Multi{wsHub, events.LogPublisher{Logger: slog.Default()}}
	clk := clock.System{}

	// --- Engines ---
	ammEngine, err := amm.New(cfg.AMM, amm.Deps{
		Store:   st,
		Custody: ledger,
		Markets: st,
		Events:  publisher,
		Clock:   clk,
	})
	if err != nil {
		return fmt.Errorf("amm: %w", err)
	}
	oracleEngine, err := oracle.New(ctx, cfg.Oracle, oracle.Deps{
		Store:  st,
		Events: publisher,
		Clock:  clk,
	})
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	h := api.NewHandler(api.Deps{
		AMM:     ammEngine,
		Oracle:  oracleEngine,
		Markets: st,
		Custody: ledger,
		Hub:     wsHub,
		Clock:   clk,
		Admin:   cfg.Admin,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(h),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("outcome-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down outcome-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopHub()
	fmt.Fprintln(os.Stdout, "outcome-engine stopped")
	return nil
}

// newLedger returns the development ledger that stands in for an external
// token custodian. Balances live in process memory only, so with a
// persistent store the escrow starts empty after every restart while pool
// reserves survive; sells and withdrawals then fail until it is refunded.
func newLedger(cfg config.Config, logger *slog.Logger) *custody.MemoryLedger {
	if cfg.DatabaseURL != "" {
		logger.Warn("custody balances are in-memory while pools persist in PostgreSQL; escrow is empty after a restart",
			"asset", cfg.AMM.Asset,
			"escrow_account", cfg.AMM.EscrowAccount,
		)
	}
	return custody.NewMemoryLedger(cfg.AMM.Asset)
}
