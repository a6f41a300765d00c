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
	"google.golang.org/grpc/grpclog"

	"github.com/clippy-oss/homie/canister-chat/internal/cli"
	"github.com/clippy-oss/homie/canister-chat/internal/clock"
	"github.com/clippy-oss/homie/canister-chat/internal/config"
	"github.com/clippy-oss/homie/canister-chat/internal/devbackend"
	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/gateway"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
	"github.com/clippy-oss/homie/canister-chat/internal/repository"
	"github.com/clippy-oss/homie/canister-chat/internal/service"
	mcpTransport "github.com/clippy-oss/homie/canister-chat/internal/transport/mcp"
)

var version = "dev"

// connection is what the frontends need from the backend beyond the API.
type connection interface {
	Health(ctx context.Context) (gateway.HealthStatus, error)
	Ready() bool
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "canister-chat: %v\n", err)
		os.Exit(2)
	}

	// Keep the interactive prompt readable unless asked for more.
	level := cfg.LogLevel
	if cfg.Mode == config.ModeInteractive && level == "info" {
		level = "warn"
	}
	logger.Init(level, nil)
	grpclog.SetLoggerV2(logger.NewGRPCLogger("grpc", 0))
	log := logger.Module("main")

	db, err := repository.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to initialize database")
	}
	defer repository.Close(db)

	backend, conn, closeBackend := newBackend(cfg)
	defer closeBackend()

	bus := domain.NewEventBus()
	session := service.NewSessionService(backend, repository.NewSessionRepository(db), bus, clock.Real())
	chat := service.NewChatService(
		backend,
		session,
		repository.NewMessageRepository(db),
		bus,
		clock.Real(),
		service.ChatServiceConfig{PollInterval: cfg.PollInterval},
	)
	session.AddListener(chat.HandleSessionChange)
	defer chat.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	if user, err := session.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not restore session")
	} else if user != nil {
		log.Info().Str("user", user.ID).Msg("Session restored")
		if err := chat.LoadDirectory(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to load directory")
		}
	}

	switch cfg.Mode {
	case config.ModeHeadless:
		handler := cli.NewCommandHandler(session, chat, conn, bus)
		if err := cli.NewHeadlessCLI(handler, os.Stdin, os.Stdout).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Headless CLI stopped")
		}
	case config.ModeMCP:
		runMCP(ctx, cfg, session, chat, conn)
	default:
		handler := cli.NewCommandHandler(session, chat, conn, bus)
		if err := cli.NewInteractiveCLI(handler, os.Stdin, os.Stdout).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("CLI stopped")
		}
	}
}

// newBackend returns the backend API, its connection and a cleanup func.
func newBackend(cfg *config.Config) (service.Backend, connection, func()) {
	if cfg.Embedded {
		store := devbackend.NewStore(clock.Real())
		stats := devbackend.Seed(store, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
		log := logger.Module("main")
		log.Info().
			Int("users", stats.Users).
			Int("groups", stats.Groups).
			Int("messages", stats.Messages).
			Str("login", devbackend.DemoEmail).
			Msg("Using embedded demo backend")
		direct := devbackend.NewDirect(store)
		return direct, direct, func() {}
	}

	gw := gateway.New(gateway.Config{
		Target:    cfg.Target,
		TargetID:  cfg.TargetID,
		StatusURL: cfg.StatusURL,
		Local:     cfg.Local,
		Insecure:  cfg.Insecure,
		RootKey:   cfg.RootKey,
		CAFile:    cfg.CAFile,
		Timeout:   cfg.Timeout,
	})
	return gateway.NewAPI(gw), gw, func() { _ = gw.Close() }
}

func runMCP(ctx context.Context, cfg *config.Config, session *service.SessionService, chat *service.ChatService, conn connection) {
	log := logger.Module("main")
	server := mcpTransport.NewServer(session, chat, conn, mcpTransport.ServerConfig{
		Address: cfg.MCPAddress,
		Version: version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Print ready message for subprocess coordination
	fmt.Println("ready")

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("MCP server error")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("MCP server stop error")
	}
}
