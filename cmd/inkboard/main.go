package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/inkboard/internal/api/ws"
	"github.com/gosuda/inkboard/internal/auth"
	"github.com/gosuda/inkboard/internal/board"
	"github.com/gosuda/inkboard/internal/broker"
	"github.com/gosuda/inkboard/internal/canvas"
	"github.com/gosuda/inkboard/internal/config"
	"github.com/gosuda/inkboard/internal/domain"
	"github.com/gosuda/inkboard/internal/presence"
	"github.com/gosuda/inkboard/internal/server"
	"github.com/gosuda/inkboard/internal/store/memory"
	"github.com/gosuda/inkboard/internal/store/postgres"
	redisstore "github.com/gosuda/inkboard/internal/store/redis"
	"github.com/gosuda/inkboard/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

// repositories is what every database driver provides.
type repositories interface {
	Boards() domain.BoardRepository
	Canvas() domain.CanvasRepository
}

// closableBroker is a broker the process owns and must release.
type closableBroker interface {
	broker.Broker
	io.Closer
}

func run() error {
	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repos, pinger, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	pub, err := openBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	engine := canvas.NewEngine(repos.Canvas(), pub, canvas.Config{
		HistoryDepth:   cfg.Engine.HistoryDepth,
		EventRetention: cfg.Engine.EventRetention,
		QueueSize:      cfg.Engine.QueueSize,
		CommitTimeout:  cfg.Engine.CommitTimeout,
	})
	pres := presence.New(pub)
	boards := board.NewService(repos.Boards(), engine, pres)
	hub := ws.NewHub(engine, boards, pres, pub, ws.Config{
		OutboxSize:     cfg.Session.OutboxSize,
		PingInterval:   cfg.Session.PingInterval,
		OriginPatterns: originPatterns(cfg.Server.CORSOrigins),
		EphemeralRate:  cfg.Session.CursorRate,
		EphemeralBurst: cfg.Session.CursorBurst,
		MutationRate:   cfg.Session.MutationRate,
		MutationBurst:  cfg.Session.MutationBurst,
	})

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, server.Deps{
		Verifier: auth.NewVerifier(cfg.JWT.Secret),
		Boards:   boards,
		Canvas:   engine,
		Hub:      hub,
		Store:    pinger,
		Broker:   brokerReadiness(pub),
	})

	// Start server in background goroutine.
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).
			Str("db", cfg.Database.Driver).
			Str("broker", cfg.Broker.Mode).
			Msg("starting server")
		errCh <- srv.Start(ctx)
	}()

	// Block until shutdown signal or listener failure.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// HTTP first so no new sockets arrive, then sessions, then the rooms
	// so pending commits flush before the store closes.
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repositories, server.Pinger, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn().Msg("memory database driver: boards are lost on restart")
		return memory.New(), nil, func() {}, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st, func() { _ = st.Close() }, nil

	case config.DriverPostgres:
		if cfg.MaxConns > math.MaxInt32 {
			return nil, nil, nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.MaxConns)
		}
		st, err := postgres.New(ctx, cfg.DSN(), int32(cfg.MaxConns)) //nolint:gosec // bounds checked above
		if err != nil {
			return nil, nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, nil, err
		}
		return st, st, func() { _ = st.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func openBroker(ctx context.Context, cfg *config.Config) (closableBroker, error) {
	if cfg.Broker.Mode == config.BrokerRedis {
		return redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Broker.Buffer)
	}
	return broker.NewMemory(cfg.Broker.Buffer), nil
}

// brokerReadiness returns the broker's health check, or nil for the
// in-process broker which has nothing to reach.
func brokerReadiness(pub broker.Broker) server.Pinger {
	if p, ok := pub.(server.Pinger); ok {
		return p
	}
	return nil
}

// originPatterns turns CORS origins into the host patterns the websocket
// accept check matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}
