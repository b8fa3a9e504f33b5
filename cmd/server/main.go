package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scribecat/quizwire/internal/config"
	"github.com/scribecat/quizwire/internal/httpapi"
	"github.com/scribecat/quizwire/internal/server"
	"github.com/scribecat/quizwire/internal/store"
	"github.com/scribecat/quizwire/pkg/types"
)

func main() {
	cfg := config.Load()

	log := buildLogger(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The results store is optional: without a DSN the server runs purely
	// in-memory and /leaderboard returns 404.
	var st *store.Store
	var onComplete func(types.Snapshot)
	if cfg.DatabaseDSN != "" {
		var err error
		st, err = store.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal("opening results store", zap.Error(err))
		}
		onComplete = func(snap types.Snapshot) {
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.RecordResult(wctx, snap); err != nil {
				log.Error("recording game result",
					zap.String("session", snap.Session.ID), zap.Error(err))
			}
		}
	}

	h := server.NewHub(ctx, log, onComplete, cfg.FinalDuration)
	handler := httpapi.SetupRoutes(h, st, cfg.AllowedOrigin, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- server.ShutdownHub{}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("shut down cleanly")
}

func buildLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}
