package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internalhttp "github.com/EternisAI/provider-ca/internal/api/http"
	"github.com/EternisAI/provider-ca/internal/auth"
	"github.com/EternisAI/provider-ca/internal/cert"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/engine"
	grpcclient "github.com/EternisAI/provider-ca/internal/grpc/client"
	grpcserver "github.com/EternisAI/provider-ca/internal/grpc/server"
	"github.com/EternisAI/provider-ca/internal/health"
	"github.com/EternisAI/provider-ca/internal/issuance"
	"github.com/EternisAI/provider-ca/internal/lifecycle"
	"github.com/EternisAI/provider-ca/internal/signing"
	"github.com/EternisAI/provider-ca/internal/store"
	"github.com/gin-gonic/gin"
)

var AppVersion string

func main() {
	InitConfig()

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck())
	}

	slog.Info("Provider CA Server", "version", AppVersion)

	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, closeStore, err := store.Open(ctx, config.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	ca, err := cert.New(config.CA)
	if err != nil {
		return fmt.Errorf("failed to initialize certificate authority: %w", err)
	}

	eng := engine.New(ca, config.Engine)

	challenges, err := confirmation.NewManager(config.Confirmation)
	if err != nil {
		return err
	}
	validator, err := auth.NewValidator(config.Auth)
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}
	notifier, err := confirmation.NewNotifier(config.Confirmation.Webhook)
	if err != nil {
		return fmt.Errorf("invalid confirmation webhook: %w", err)
	}
	codeDelivery := confirmation.DeliversCode(notifier)
	if err := confirmation.ValidatePolicy(config.Confirmation.Default, codeDelivery); err != nil {
		return fmt.Errorf("invalid default confirmation policy: %w", err)
	}
	policies := confirmation.NewResolver(backend, config.Confirmation.Default, codeDelivery)
	slog.Info("Confirmation delivery configured", "code_delivery", codeDelivery)

	deps := lifecycle.Deps{
		Store:      backend,
		Challenges: challenges,
		Notifier:   notifier,
	}
	signingService := signing.NewService(deps, backend, policies, eng, config.Engine.Timeout)
	issuanceService := issuance.NewService(deps, backend, policies, eng, config.Engine.Timeout)

	if config.Grpc.TLS.Enabled {
		if config.Grpc.TLS.CertFile == "" {
			config.Grpc.TLS.CertFile = ca.ServerCertPath
			config.Grpc.TLS.KeyFile = ca.ServerKeyPath
		}
		if config.Grpc.TLS.CAFile == "" {
			config.Grpc.TLS.CAFile = ca.CACertPath
		}
	}
	grpcSrv, err := grpcserver.NewServer(config.Grpc)
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	checker := health.NewChecker(backend, config.Health.Timeout)
	checker.OnChange(grpcSrv.SetServing)
	go checker.Run(ctx, config.Health.Interval)

	gin.SetMode(gin.ReleaseMode)
	router := internalhttp.NewEngine(config.Http, &internalhttp.Services{
		Signing:    signingService,
		Issuance:   issuanceService,
		Policies:   policies,
		Challenges: challenges,
		Approver:   lifecycle.NewApprovals(backend),
		Validator:  validator,
		Health:     checker,
		Version:    AppVersion,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Http.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := grpcSrv.Start(); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
			slog.Error("gRPC server shutdown error", "error", err)
		}
	}()

	wg.Wait()

	// Operations executing in the background finish before the store closes.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer waitCancel()
	for name, svc := range map[string]interface{ Wait(context.Context) error }{
		"signing":  signingService,
		"issuance": issuanceService,
	} {
		if err := svc.Wait(waitCtx); err != nil {
			slog.Warn("Background operations still running at shutdown", "service", name, "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}

// healthcheck checks the gRPC health endpoint of a running server. It is meant as a
// container health command and returns the process exit code.
func healthcheck() int {
	cfg := config.Healthcheck
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf("localhost:%d", config.Grpc.Port)
	}
	if err := grpcclient.Check(context.Background(), cfg); err != nil {
		slog.Error("Health check failed", "address", cfg.Address, "error", err)
		return 1
	}
	return 0
}
