package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ended/simplecoin-rpc-client/internal/admin"
	"github.com/ended/simplecoin-rpc-client/internal/config"
	"github.com/ended/simplecoin-rpc-client/internal/engine"
	"github.com/ended/simplecoin-rpc-client/internal/infra"
	"github.com/ended/simplecoin-rpc-client/internal/logging"
	"github.com/ended/simplecoin-rpc-client/internal/notification"
	"github.com/ended/simplecoin-rpc-client/internal/payout"
	"github.com/ended/simplecoin-rpc-client/internal/remote"
	"github.com/ended/simplecoin-rpc-client/internal/runlock"
	"github.com/ended/simplecoin-rpc-client/internal/wallet"
)

const usage = `usage: payoutd <command> [args]

commands:
  pull              pull new payout obligations from the server
  disburse          pay out all ready payout records
  confirm           check unconfirmed transactions and report depth/fees
  associate         push paid record groups to the server
  local_associate   stamp a txid onto unpaid locked records (recovery)
  reset_all_locked  unlock every locked record after a manual audit
  dump_incomplete   print incomplete payout records
  dump_complete     print settled payout records
  serve             run the read-only admin HTTP server
`

// main only translates run's exit code; everything with a deferred cleanup
// lives in run, so os.Exit never skips a release.
func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	command, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		return 1
	}

	ctx := context.Background()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		return 1
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		return 1
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	repo := payout.NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		return 1
	}

	gateway := wallet.NewClient(cfg.WalletRPCURL, cfg.WalletRPCUser, cfg.WalletRPCPass, cfg.WalletAccount, cfg.RPCTimeout)
	source := remote.NewClient(cfg.RemoteURL, []byte(cfg.RemoteSigningKey), cfg.RemoteMaxAge, cfg.RPCTimeout)

	eng := engine.New(repo, gateway, source, notification.NewLoggerNotifier(logger), engine.Options{
		Currency:         cfg.CurrencyCode,
		AddressVersions:  cfg.ValidAddressVersions,
		MinConfirms:      cfg.MinConfirms,
		MinTxOutput:      cfg.MinTxOutput,
		TxFee:            cfg.TxFee,
		WalletPassphrase: cfg.WalletPassphrase,
		UnlockSeconds:    cfg.WalletUnlockSeconds,
		Confirm:          promptConfirm,
	}, logger)

	if command == "serve" {
		return serve(cfg, admin.Deps{Cfg: cfg, Repo: repo, DB: db, Cache: cache, Wallet: gateway, Logger: logger}, logger)
	}

	cmd, err := engine.ParseCommand(command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		return 2
	}

	return runCommand(ctx, cache, cfg, eng, logger, cmd, args)
}

// runCommand executes one engine command under the per-currency lease. The
// lease release is deferred inside this function so it completes on every
// path, success or failure, before the process can exit.
func runCommand(ctx context.Context, cache *redis.Client, cfg config.Config, eng *engine.Engine, logger *slog.Logger, cmd engine.Command, args []string) int {
	// Every state-touching command runs under the per-currency lease; two
	// engines reading the same snapshot is the one race the store cannot
	// prevent on its own.
	lock, err := runlock.Acquire(ctx, cache, cfg.CurrencyCode, 2*cfg.RPCTimeout)
	if err != nil {
		logger.Error("acquire run lock", "error", err)
		return 1
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("release run lock", "error", err)
		}
	}()

	if err := eng.Run(ctx, cmd, args...); err != nil {
		return 1
	}
	return 0
}

// promptConfirm asks the operator to approve a destructive bulk operation.
func promptConfirm(count int) bool {
	fmt.Printf("About to unlock %d locked payout records. This can re-expose them for payment.\nProceed? [y/n] ", count)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(answer)) == "y"
}

func serve(cfg config.Config, deps admin.Deps, logger *slog.Logger) int {
	srv := admin.New(deps)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("admin server error", "error", err)
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}

	logger.Info("admin server exited cleanly")
	return 0
}
