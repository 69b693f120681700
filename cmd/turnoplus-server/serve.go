package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"google.golang.org/grpc"

	"turnoplus/backend/internal/config"
	"turnoplus/backend/internal/lock"
	"turnoplus/backend/internal/metrics"
	"turnoplus/backend/internal/service/scheduling"
	"turnoplus/backend/internal/store/postgres"
	grpcTransport "turnoplus/backend/internal/transport/grpc"
	"turnoplus/backend/internal/transport/httpapi"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC and HTTP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), log, cfg)
		},
	}
}

func serve(ctx context.Context, log *slog.Logger, cfg config.Config) error {
	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("env", cfg.AppEnv),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(log, db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedMetrics, err := metrics.NewScheduling(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []scheduling.Option{
		scheduling.WithLogger(log),
		scheduling.WithMetrics(schedMetrics),
		scheduling.WithMinLeadTime(cfg.MinLeadTime),
		scheduling.WithMaxRetries(cfg.MaxTxRetries),
	}

	var redisPing httpapi.Pinger
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		locker := lock.NewRedisLocker(client, cfg.RedisLockTTL)
		opts = append(opts, scheduling.WithSlotLocker(locker))
		redisPing = locker.Ping
		log.Info("redis slot guard enabled", slog.Duration("ttl", cfg.RedisLockTTL))
	} else {
		log.Info("redis slot guard disabled")
	}

	svc := scheduling.NewService(postgres.NewSchedulingRepo(db), postgres.NewDirectory(db), blockDurations(db, cfg), opts...)

	grpcServer, healthServer := grpcTransport.NewGRPCServer(grpcTransport.NewServer(svc, log), cfg.GRPCRequestTimeout)
	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Service: svc,
			Health: httpapi.NewHealthHandler(
				func(ctx context.Context) error { return postgres.Ping(ctx, db) },
				redisPing, cfg.AppEnv, cfg.AppVersion),
			Gatherer: reg,
			Logger:   log,
			Timeout:  cfg.GRPCRequestTimeout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	log.Info("servers started", slog.String("grpc_addr", cfg.GRPCAddr()), slog.String("http_addr", cfg.HTTPAddr))

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped with error", slog.Any("err", err))
			serveErr = err
		}
	}

	healthServer.Shutdown()
	shutdown(log, grpcServer, httpServer, cfg.ShutdownTimeout)
	return serveErr
}

func blockDurations(db *bun.DB, cfg config.Config) scheduling.BlockDurationSource {
	if cfg.SettingsSource == config.SettingsFromDatabase {
		return postgres.NewSettingsReader(db, cfg.BlockDuration)
	}
	return scheduling.StaticBlockDuration(cfg.BlockDuration)
}

func shutdown(log *slog.Logger, gs *grpc.Server, hs *http.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := hs.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		gs.Stop()
	}
}
