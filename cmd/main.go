package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	grpcapi "copilot-transcript-service/internal/api/grpc"
	"copilot-transcript-service/internal/app"
	"copilot-transcript-service/internal/config"
	httpapi "copilot-transcript-service/internal/http"
	"copilot-transcript-service/internal/observability"
	"copilot-transcript-service/internal/observability/metrics"
)

const (
	reapInterval    = 30 * time.Second
	healthInterval  = 5 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg := config.Load()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := grpcapi.New(application.Ready, metrics.DefaultMetrics)
	obsServer := observability.NewServer(cfg.Observability.MetricsAddr, application.Ready)

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen for gRPC")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
		return grpcServer.GRPC().Serve(lis)
	})
	g.Go(obsServer.ListenAndServe)
	g.Go(func() error {
		return grpcServer.WatchReadiness(gctx, healthInterval)
	})
	g.Go(func() error {
		return application.Sessions.Run(gctx, reapInterval)
	})

	// Shutdown runs once any server fails or a signal arrives.
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Observability shutdown failed")
		}
		return nil
	})

	err = g.Wait()
	application.Shutdown()
	if err != nil {
		log.Error().Err(err).Msg("Copilot transcript service stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Copilot transcript service stopped")
}
