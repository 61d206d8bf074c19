package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"workescrow/config"
	"workescrow/core/events"
	"workescrow/crypto"
	"workescrow/gateway/audit"
	"workescrow/gateway/auth"
	gatewayconfig "workescrow/gateway/config"
	"workescrow/gateway/middleware"
	"workescrow/gateway/routes"
	"workescrow/observability/logging"
	telemetry "workescrow/observability/otel"
	"workescrow/storage"
)

const (
	serviceName        = "escrowd"
	rateLimitKey       = "escrow"
	challengePruneTick = time.Minute
)

var version = "dev"

func main() {
	var cfgPath string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "./escrowd.toml", "path to the escrowd TOML configuration")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.SetupWithOptions(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, filepath.Dir(cfgPath), allowInsecureFlag, logger); err != nil {
		logger.Error("escrowd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, configDir string, allowInsecureFlag bool, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     version,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	gwCfg, err := gatewayconfig.Load(resolvePath(configDir, cfg.GatewayConfigFile))
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	policy, err := config.LoadPolicy(resolvePath(configDir, cfg.PolicyFile))
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(cfg.StateBackend, cfg.StatePath())
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	var auditStore *audit.Store
	if cfg.Audit.Driver != "" {
		auditStore, err = audit.Open(cfg.Audit.Driver, cfg.Audit.DSN, logger)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		auditStore.Start()
		logger.Info("audit store enabled", "driver", cfg.Audit.Driver, "dsn", logging.RedactDSN(cfg.Audit.DSN))
		defer func() {
			if err := auditStore.Close(); err != nil {
				logger.Warn("close audit store", "error", err)
			}
		}()
	}

	ownerKey, err := loadOwnerKey(cfg.OwnerKeystorePath, logger)
	if err != nil {
		return err
	}
	var sinks []events.Emitter
	if auditStore != nil {
		sinks = append(sinks, auditStore)
	}
	n := newNode(db, cfg.Fees, logger, sinks...)
	if err := n.bootstrap(ctx, ownerKey.Address(), cfg.Environment, policy); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("escrow engine ready", "owner", ownerKey.Address().Hex(), "state", cfg.StatePath(), "backend", cfg.StateBackend)

	var authService *auth.Service
	if gwCfg.Auth.Enabled {
		storePath := gwCfg.Auth.ChallengeStore
		if strings.TrimSpace(storePath) == "" {
			storePath = filepath.Join(cfg.DataDir, "challenges")
		}
		challenges, err := auth.NewLevelDBChallengeStore(storePath)
		if err != nil {
			return fmt.Errorf("open challenge store: %w", err)
		}
		defer challenges.Close()
		go pruneChallenges(ctx, challenges, logger)
		authService, err = auth.NewService(auth.Config{
			Secret:       []byte(gwCfg.Auth.HMACSecret),
			Issuer:       gwCfg.Auth.Issuer,
			Audience:     gwCfg.Auth.Audience,
			ScopeClaim:   gwCfg.Auth.ScopeClaim,
			TokenTTL:     gwCfg.Auth.TokenTTL,
			ChallengeTTL: gwCfg.Auth.ChallengeTTL,
		}, challenges, crypto.NewVerifier(n.wallets), n.mods.Access)
		if err != nil {
			return fmt.Errorf("configure wallet login: %w", err)
		}
		logger.Info("wallet login enabled", "challengeStore", storePath, "issuer", gwCfg.Auth.Issuer,
			logging.MaskField("hmacSecret", gwCfg.Auth.HMACSecret))
	}

	handler, err := buildHandler(gwCfg, n, authService, auditStore, cfg.Events.SubscriberBuffer, logger)
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	tlsConfig, err := buildTLSConfig(configDir, gwCfg.Security)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	allowInsecure := gwCfg.Security.AllowInsecure || allowInsecureFlag
	if tlsConfig == nil {
		if !allowInsecure {
			return errors.New("gateway TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
		}
		if !strings.EqualFold(cfg.Environment, "dev") && !isLoopbackAddress(gwCfg.ListenAddress) {
			return errors.New("plaintext gateway mode is restricted to loopback listeners or dev environment")
		}
	}

	server := &http.Server{
		Addr:         gwCfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  gwCfg.ReadTimeout,
		WriteTimeout: gwCfg.WriteTimeout,
		IdleTimeout:  gwCfg.IdleTimeout,
		TLSConfig:    tlsConfig,
	}
	listener, err := net.Listen("tcp", gwCfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		logger.Info("gateway listening", "address", fmt.Sprintf("%s://%s", scheme, listener.Addr()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

func buildHandler(gwCfg gatewayconfig.Config, n *node, authService *auth.Service, auditStore *audit.Store, streamBuffer int, logger *slog.Logger) (http.Handler, error) {
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   gwCfg.Observability.ServiceName,
		MetricsPrefix: gwCfg.Observability.MetricsPrefix,
		LogRequests:   gwCfg.Observability.LogRequests,
		Enabled:       gwCfg.Observability.Metrics || gwCfg.Observability.Tracing,
	}, logger)

	authn := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        gwCfg.Auth.Enabled,
		HMACSecret:     gwCfg.Auth.HMACSecret,
		Issuer:         gwCfg.Auth.Issuer,
		Audience:       gwCfg.Auth.Audience,
		ScopeClaim:     gwCfg.Auth.ScopeClaim,
		OptionalPaths:  gwCfg.Auth.OptionalPaths,
		AllowAnonymous: gwCfg.Auth.AllowAnonymous,
		ClockSkew:      gwCfg.Auth.ClockSkew,
	}, logger)
	if !gwCfg.Auth.Enabled {
		logger.Warn("gateway auth disabled; X-Caller header is trusted")
	}

	rateLimits := make(map[string]middleware.RateLimit)
	for _, entry := range gwCfg.RateLimits {
		if entry.ID == "" {
			continue
		}
		rate := entry.RatePerSecond
		if rate <= 0 && entry.RequestsPerMinute > 0 {
			rate = entry.RequestsPerMinute / 60.0
		}
		rateLimits[entry.ID] = middleware.RateLimit{
			RatePerSecond: rate,
			Burst:         entry.Burst,
			DefaultTokens: entry.DefaultTokens,
			Tokens:        entry.Tokens,
		}
	}
	if _, ok := rateLimits[rateLimitKey]; !ok {
		rateLimits[rateLimitKey] = middleware.RateLimit{RatePerSecond: 10, Burst: 50}
	}

	cors := middleware.CORSConfig{
		AllowedOrigins:   gwCfg.CORS.AllowedOrigins,
		AllowedMethods:   gwCfg.CORS.AllowedMethods,
		AllowedHeaders:   gwCfg.CORS.AllowedHeaders,
		AllowCredentials: gwCfg.CORS.AllowCredentials,
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Content-Type", "Authorization", "X-API-Key"}
	}

	router, err := routes.New(routes.Config{
		Modules:       n.mods,
		Auth:          authService,
		Events:        n.events,
		StreamBuffer:  streamBuffer,
		Audit:         auditStore,
		Authenticator: authn,
		RateLimiter:   middleware.NewRateLimiter(rateLimits, logger),
		RateLimitKey:  rateLimitKey,
		Observability: obs,
		CORS:          cors,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	if gwCfg.Observability.Tracing {
		return otelhttp.NewHandler(router, "gateway"), nil
	}
	return router, nil
}

func pruneChallenges(ctx context.Context, store *auth.LevelDBChallengeStore, logger *slog.Logger) {
	ticker := time.NewTicker(challengePruneTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Prune(ctx, now)
			if err != nil {
				logger.Warn("prune login challenges", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("pruned login challenges", "count", removed)
			}
		}
	}
}
