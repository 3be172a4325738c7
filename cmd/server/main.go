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

	"chat-fanout/internal/api"
	"chat-fanout/internal/auth"
	"chat-fanout/internal/chat"
	"chat-fanout/internal/config"
	"chat-fanout/internal/db"
	"chat-fanout/internal/logger"
	"chat-fanout/internal/metrics"
	"chat-fanout/internal/repository"
	"chat-fanout/internal/repository/sqlite"
	"chat-fanout/internal/sequence"
	"chat-fanout/internal/tasks"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// store bundles the repositories of whichever database driver is configured.
type store struct {
	messages  repository.MessageRepo
	chats     repository.ChatRepo
	users     repository.UserRepository
	shortcuts repository.ShortcutRepo
	pinger    api.Pinger
	close     func()
}

// hubStore adapts the chat and message repositories to chat.MessageStore.
type hubStore struct {
	repository.ChatRepo
	repository.MessageRepo
}

func openStore(cfg *config.Config, seq *sequence.Assigner, log *zap.Logger) (*store, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, seq, log)
		if err != nil {
			return nil, err
		}
		return &store{
			messages:  s,
			chats:     s,
			users:     s,
			shortcuts: s,
			pinger:    s,
			close:     func() { _ = s.Close() },
		}, nil

	default:
		pool, err := db.Connect(cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := db.MigratePostgres(pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		return &store{
			messages:  repository.NewMessagesRepo(pool, seq, log),
			chats:     repository.NewChatRepo(pool),
			users:     repository.NewUserRepo(pool),
			shortcuts: repository.NewShortcutRepo(pool),
			pinger:    pool,
			close:     pool.Close,
		}, nil
	}
}

func main() {
	cfg, err := config.Load(zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("graceful shutdown complete")
}

func run(cfg *config.Config, log *zap.Logger) error {
	st, err := openStore(cfg, sequence.NewAssigner(), log)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := chat.NewHub(hubStore{ChatRepo: st.chats, MessageRepo: st.messages}, m, log)
	sessions := chat.NewServer(hub, chat.SessionOptions{
		SendBuffer:     cfg.SendBuffer,
		ReadLimit:      cfg.ReadLimit,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	}, log)

	var verifier *auth.Verifier
	if cfg.AuthKey != "" {
		verifier = auth.NewVerifier(cfg.AuthKey, log)
	}

	backfill := tasks.NewShortcutBackfill(st.shortcuts, log)
	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	if _, err := backfill.RunOnce(startCtx); err != nil {
		log.Error("startup shortcut backfill failed", zap.Error(err))
	}
	cancel()
	if err := backfill.Start(cfg.BackfillCron); err != nil {
		return err
	}
	defer backfill.Stop()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.Deps{
			Hub:      hub,
			Sessions: sessions,
			Messages: st.messages,
			Chats:    st.chats,
			Users:    st.users,
			Verifier: verifier,
			Store:    st.pinger,
			Gatherer: reg,
			Log:      log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-stop:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancelShutdown()

	// hijacked websocket connections are not tracked by Shutdown
	hub.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
