package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codeduel-live/battle-backend/internal/archive"
	"github.com/codeduel-live/battle-backend/internal/auth"
	"github.com/codeduel-live/battle-backend/internal/config"
	"github.com/codeduel-live/battle-backend/internal/httpapi"
	"github.com/codeduel-live/battle-backend/internal/judge"
	"github.com/codeduel-live/battle-backend/internal/problems"
	"github.com/codeduel-live/battle-backend/internal/queue"
	"github.com/codeduel-live/battle-backend/internal/registry"
	"github.com/codeduel-live/battle-backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.DevLog)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var archiver archive.Archiver = archive.NopArchiver{}
	if cfg.DatabaseURL != "" {
		ga, err := archive.NewGormArchiver(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("connect battle archive", zap.Error(err))
		}
		archiver = ga
	}

	reg := registry.New(ctx, registry.Params{
		Problems:     problems.NewStaticRepo(nil, time.Now().UnixNano()),
		Judge:        judge.NewHTTPClient(cfg.JudgeURL, cfg.JudgeTimeout, logger),
		Archiver:     archiver,
		TimeLimit:    cfg.TimeLimit,
		GraceWindow:  cfg.GraceWindow,
		ChatCooldown: cfg.ChatCooldown,
		ChatMaxLen:   cfg.ChatMaxLen,
		Log:          logger,
	})
	q := queue.New(ctx, reg, logger)
	gw := ws.NewGateway(auth.NewJWTVerifier([]byte(cfg.JWTSecret)), q, reg, logger)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.SetupRoutes(gw)}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		reg.Shutdown()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := grp.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
