package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"lifeflow/internal/api"
	"lifeflow/internal/config"
	"lifeflow/internal/habit"
	"lifeflow/internal/push"
	"lifeflow/internal/remind"
	"lifeflow/internal/store"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "HTTP bind address")
		dbPath  = flag.String("db", "lifeflow.db", "SQLite DB path")
		cfgPath = flag.String("config", "", "YAML config file (push credentials)")
		debug   = flag.Bool("debug", false, "expose pprof endpoints")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	st := store.NewSQLite(db)

	var sender remind.Pusher
	if cfg.Push.Enabled() {
		sender = push.NewWebPush(cfg.Push, st)
		log.Info().Msg("web push delivery enabled")
	} else {
		sender = push.Nop{}
		log.Warn().Msg("VAPID keys not configured, push delivery disabled")
	}

	// Rebuild pending reminder timers from persisted state.
	sched := remind.New(st, sender, nil)
	if n, err := sched.Bootstrap(context.Background()); err != nil {
		log.Error().Err(err).Msg("reminder recovery")
	} else {
		log.Info().Int("entities", n).Msg("reminders recovered")
	}

	habits := habit.NewService(st, sender)
	if err := habits.Start(); err != nil {
		log.Fatal().Err(err).Msg("start habit service")
	}
	defer habits.Stop()

	srv := &http.Server{Addr: *addr, Handler: api.NewServerWithDebug(st, sched, *debug)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
