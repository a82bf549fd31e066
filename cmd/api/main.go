package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/psiconnect/backoffice/internal/audit"
	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/config"
	"github.com/psiconnect/backoffice/internal/httpapi"
	"github.com/psiconnect/backoffice/internal/identity"
	"github.com/psiconnect/backoffice/internal/obs"
	"github.com/psiconnect/backoffice/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.Development(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.Database.DSN == "" {
		logger.Fatal("database.dsn is required to resolve admin roles")
	}
	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer store.Close()

	client, err := identity.NewClient(cfg.Identity.URL, cfg.Identity.AnonKey,
		identity.WithServiceRoleKey(cfg.Identity.ServiceRoleKey),
		identity.WithTimeout(cfg.Identity.Timeout),
	)
	if err != nil {
		logger.Fatal("identity client", zap.Error(err))
	}
	var verifier auth.IdentityVerifier = client
	if cfg.Identity.VerifyMode == config.VerifyJWT {
		verifier, err = identity.NewJWTVerifier(cfg.Identity.JWTSecret, cfg.Identity.JWTIssuer, cfg.Identity.JWTAudience)
		if err != nil {
			logger.Fatal("jwt verifier", zap.Error(err))
		}
	}

	gate, err := auth.NewGate(verifier, client, store,
		auth.WithPublicPaths(auth.DefaultPublicPaths().With(cfg.Auth.LoginPath)),
		auth.WithLogger(logger.Named("gate")),
	)
	if err != nil {
		logger.Fatal("gate", zap.Error(err))
	}
	ready := httpapi.ReadinessCheck{DB: store.DB()}

	api, err := httpapi.New(httpapi.Config{
		Version:     version,
		LoginPath:   cfg.Auth.LoginPath,
		SiteURL:     cfg.Auth.SiteURL,
		RateBurst:   cfg.HTTP.RateBurst,
		RatePerSec:  cfg.HTTP.RatePerSec,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	}, httpapi.Deps{
		Gate:     gate,
		Verifier: verifier,
		Accounts: client,
		Admins:   store,
		Backend:  store,
		Audit:    audit.NewRecorder(store, logger.Named("audit")),
		Ready:    ready,
		Tokens:   auth.TokenStore{Secure: !cfg.Development()},
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("http api", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("starting backoffice-api", zap.String("version", version), zap.String("addr", srv.Addr),
			zap.String("verify_mode", cfg.Identity.VerifyMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(ready)
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)
		go func() {
			logger.Info("starting grpc health", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc serve", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
