// Command dev-backend runs an in-memory chat backend for local development:
// the gRPC service on --addr and the status endpoint with the root key on
// --status-addr.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/clippy-oss/homie/canister-chat/internal/clock"
	"github.com/clippy-oss/homie/canister-chat/internal/devbackend"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
	grpcTransport "github.com/clippy-oss/homie/canister-chat/internal/transport/grpc"
)

var version = "dev"

func main() {
	var (
		address      string
		statusAddr   string
		targetID     string
		logLevel     string
		seed         bool
		seedValue    uint64
		rotateEvery  time.Duration
		cleanupEvery time.Duration
	)
	fs := pflag.NewFlagSet("dev-backend", pflag.ContinueOnError)
	fs.StringVar(&address, "addr", "127.0.0.1:4943", "gRPC listen address")
	fs.StringVar(&statusAddr, "status-addr", "127.0.0.1:4944", "Status endpoint listen address")
	fs.StringVar(&targetID, "target-id", "bkyz2-fmaaa-aaaaa-qaaaq-cai", "Target (canister) id callers must address")
	fs.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.BoolVar(&seed, "seed", true, "Fill the store with demo users, groups and messages")
	fs.Uint64Var(&seedValue, "seed-value", 0, "Random seed for demo data (0 picks one)")
	fs.DurationVar(&rotateEvery, "rotate-key-every", 0, "Rotate the root key periodically (0 disables)")
	fs.DurationVar(&cleanupEvery, "otp-cleanup-every", time.Minute, "Expired one-time code cleanup interval")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "dev-backend: %v\n", err)
		os.Exit(2)
	}

	logger.Init(logLevel, nil)
	log := logger.Module("main")

	store := devbackend.NewStore(clock.Real())
	if seed {
		if seedValue == 0 {
			seedValue = uint64(time.Now().UnixNano())
		}
		stats := devbackend.Seed(store, rand.New(rand.NewPCG(seedValue, 0)))
		log.Info().
			Int("users", stats.Users).
			Int("groups", stats.Groups).
			Int("messages", stats.Messages).
			Str("login", devbackend.DemoEmail).
			Msg("Seeded demo data")
	}

	keys, err := devbackend.NewKeyRing()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create root key")
	}

	grpcServer := grpcTransport.NewServer(store, keys, grpcTransport.ServerConfig{
		Address:  address,
		TargetID: targetID,
	})
	statusServer := &http.Server{
		Addr:              statusAddr,
		Handler:           devbackend.NewStatusMux(keys, version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		log.Info().Str("address", statusAddr).Msg("Serving status endpoint")
		if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server error: %w", err)
		}
	}()
	go maintain(ctx, store, keys, rotateEvery, cleanupEvery)

	log.Info().
		Str("target_id", targetID).
		Str("root_key_fingerprint", keys.Fingerprint()).
		Msg("Dev backend ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("Server failed")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	grpcServer.Stop()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Status server stop error")
	}
	log.Info().Msg("Shutdown complete")
}

// maintain purges expired one-time codes and, when enabled, rotates the root
// key so clients exercise their trust refresh.
func maintain(ctx context.Context, store *devbackend.Store, keys *devbackend.KeyRing, rotateEvery, cleanupEvery time.Duration) {
	log := logger.Module("main")

	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	var rotate <-chan time.Time
	if rotateEvery > 0 {
		t := time.NewTicker(rotateEvery)
		defer t.Stop()
		rotate = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			if n := store.CleanupExpiredOTPs(); n > 0 {
				log.Debug().Int("removed", n).Msg("Cleaned up expired one-time codes")
			}
		case <-rotate:
			if err := keys.Rotate(); err != nil {
				log.Error().Err(err).Msg("Root key rotation failed")
				continue
			}
			log.Info().Str("root_key_fingerprint", keys.Fingerprint()).Msg("Rotated root key")
		}
	}
}
