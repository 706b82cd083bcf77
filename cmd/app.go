package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/justinchat/justinchat/internal/application/config"
	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/application/metric"
	"github.com/justinchat/justinchat/internal/infra/adapters/memory"
	"github.com/justinchat/justinchat/internal/infra/adapters/postgres"
	"github.com/justinchat/justinchat/internal/infra/adapters/postgres/repository"
	"github.com/justinchat/justinchat/internal/infra/ports/http/handlers"
	"github.com/justinchat/justinchat/internal/infra/ports/http/server"
	"github.com/justinchat/justinchat/internal/usecase"
)

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
	if err != nil {
		slog.Error("connect to postgres", slog.Any(constant.Error, err))
		os.Exit(1)
	}
	defer dbConn.Close()

	userRepo := repository.NewUserRepo(dbConn)
	callRepo := repository.NewCallRepo(dbConn)
	wsConnRepo := memory.NewWSConnectionRepository()
	roomRepo := memory.NewRoomRepository()

	userUsecase := usecase.NewUserUsecase([]byte(cfg.JWTSecret), userRepo)
	callUsecase := usecase.NewCallUsecase([]byte(cfg.JWTSecret), cfg.InviteTTL, userRepo, callRepo)
	relayUsecase := usecase.NewRelayUsecase(roomRepo, wsConnRepo, callRepo, cfg.GlobalRoom)

	authHandler := handlers.NewAuthHandler(userUsecase, cfg.Domain, cfg.Debug)
	callHandler := handlers.NewCallHandler(callUsecase)
	iceHandler := handlers.NewIceHandler(cfg)
	wsHandler := handlers.NewWebSocketHandler(cfg, relayUsecase, wsConnRepo)

	echoSrv := server.New(cfg, authHandler, callHandler, iceHandler, wsHandler)

	metricsSrv := metric.NewServer()

	echoSrvCh := make(chan error, 1)
	metricsSrvCh := make(chan error, 1)

	go func() {
		echoSrvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	go func() {
		metricsSrvCh <- metricsSrv.Start(":" + cfg.MetricPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down servers due to context cancel")
	case err := <-echoSrvCh:
		slog.Error(
			"HTTP server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	case err := <-metricsSrvCh:
		slog.Error(
			"Metrics server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown HTTP server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown metric server", slog.Any(constant.Error, err))
	}
}
