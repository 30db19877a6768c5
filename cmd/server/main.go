package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jhilbert/bg/internal/config"
	"github.com/jhilbert/bg/internal/directory"
	"github.com/jhilbert/bg/internal/httpapi"
	"github.com/jhilbert/bg/internal/hub"
	"github.com/jhilbert/bg/internal/registry"
	"github.com/jhilbert/bg/internal/store"
	"github.com/jhilbert/bg/internal/store/gormstore"
	"github.com/jhilbert/bg/internal/store/memstore"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		names store.NameStore
		dirs  store.DirectoryStore
		snaps store.SnapshotStore
	)
	if cfg.DatabaseURL != "" {
		db, err := gormstore.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		names = gormstore.NewNames(db)
		dirs = gormstore.NewDirectory(db)
		snaps = gormstore.NewSnapshots(db)
		logger.Info("using postgres store")
	} else {
		names = memstore.NewNames()
		dirs = memstore.NewDirectory()
		snaps = memstore.NewSnapshots()
		logger.Info("using in-memory store")
	}

	reg := registry.New(names, cfg.NameTTL, logger.Named("registry"))
	dir := directory.New(dirs, cfg.DirectoryTTL, logger.Named("directory"))
	h := hub.New(ctx, hub.Config{
		Registry:  reg,
		Directory: dir,
		Snapshots: snaps,
		Retention: cfg.Retention,
		Log:       logger.Named("room"),
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(h, reg, dir, logger.Named("http")),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shut down cleanly")
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	return zcfg.Build()
}
