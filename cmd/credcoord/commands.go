package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"github.com/gateway-fm/credential-coordinator/internal/credential"
	"github.com/gateway-fm/credential-coordinator/internal/health"
	"github.com/gateway-fm/credential-coordinator/internal/metrics"
	"github.com/gateway-fm/credential-coordinator/internal/pause_switch"
)

const shutdownTimeout = 30 * time.Second

type Serve struct{}

func (x *Serve) Execute(_ []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logCloser, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.updater.Start(ctx)

	var pauseSwitch *pause_switch.PauseSwitch
	if cfg.Pause.Enabled() {
		if err := pause_switch.StoreKey(a.db, pause_switch.KindPause, cfg.Pause.Key); err != nil {
			return fmt.Errorf("failed to store pause key: %w", err)
		}
		if err := pause_switch.StoreKey(a.db, pause_switch.KindResume, cfg.Pause.ResumeKey); err != nil {
			return fmt.Errorf("failed to store resume key: %w", err)
		}
		pauseSwitch = pause_switch.New(pause_switch.Config{
			Threshold: cfg.Pause.Threshold,
			Window:    cfg.Pause.Window,
		}, a.db, a.coordinator)
		slog.Info("operator pause switch enabled", "threshold", cfg.Pause.Threshold, "window", cfg.Pause.Window)
	} else {
		slog.Warn("no operator pause keys configured, keyed pause endpoints disabled")
	}

	scheduler, err := credential.NewScheduler(ctx, a.coordinator, credential.ScheduleConfig{
		ReconcileInterval: cfg.Schedule.ReconcileInterval,
		PurgeInterval:     cfg.Schedule.PurgeInterval,
		CleanupInterval:   cfg.Schedule.CleanupInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	go scheduler.Start()

	healthService := health.NewService(ctx)
	healthService.AddCheck("database", func(context.Context) error {
		_, err := a.db.GetPauseStatus()
		return err
	})
	if a.ledger.client != nil {
		healthService.AddCheck("ledger", func(ctx context.Context) error {
			_, err := a.ledger.client.NetworkInfo(ctx)
			return err
		})
	}

	// Create and register gRPC server
	grpcServer := grpc.NewServer()
	credential.NewGRPCServer(a.coordinator).Register(grpcServer)

	go func() {
		if err := startGRPCServer(grpcServer, cfg.Server.GRPCAddr); err != nil {
			slog.Error("gRPC server stopped", "err", err)
			cancel()
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	credential.NewAPIServer(a.coordinator, pauseSwitch).RegisterHandlers(router)
	health.NewApi(healthService).RegisterHandlers(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		slog.Info("http server listening", "address", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("received shutdown signal")
	case <-ctx.Done():
		slog.Info("context cancelled")
	}

	slog.Info("shutting down...")
	healthService.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		scheduler.Stop()

		slog.Info("shutting down gRPC server...")
		grpcServer.GracefulStop()
		slog.Info("gRPC server shut down")

		slog.Info("shutting down HTTP server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "err", err)
		}
		slog.Info("HTTP server shut down")

		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		slog.Info("graceful shutdown completed")
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout exceeded, forcing shutdown")
		grpcServer.Stop()
	}

	return nil
}

func startGRPCServer(server *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	slog.Info("gRPC server listening", "address", addr)
	return server.Serve(lis)
}

type Reconcile struct {
	Timeout time.Duration `short:"t" long:"timeout" description:"give up after this long" default:"2m"`
}

func (x *Reconcile) Execute(_ []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logCloser, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, cancel := context.WithTimeout(context.Background(), x.Timeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.ledger.client == nil {
		return fmt.Errorf("reconcile needs a ledger backend, got %q", cfg.Ledger.Backend)
	}

	report, err := a.coordinator.Reconcile(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(report)
}

type Fingerprint struct {
	Issuer   string `long:"issuer" description:"issuer address" required:"true"`
	Student  string `long:"student" description:"student identifier" required:"true"`
	Name     string `long:"name" description:"student name" required:"true"`
	Course   string `long:"course" description:"course name" required:"true"`
	IssuedAt int64  `long:"issued-at" description:"issuance time in unix milliseconds" required:"true"`
}

func (x *Fingerprint) Execute(_ []string) error {
	rec := credential.Record{
		IssuerAddress:     x.Issuer,
		StudentIdentifier: x.Student,
		StudentName:       x.Name,
		CourseName:        x.Course,
		IssuedAt:          x.IssuedAt,
	}
	fp := rec.ComputeFingerprint()
	fmt.Println(fp.Hex())
	return nil
}
