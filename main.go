package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"redis-proxy/audit"
	"redis-proxy/backend"
	"redis-proxy/config"
	"redis-proxy/policy"
	"redis-proxy/resp/handler"
	"redis-proxy/tcp"
)

var (
	configPath      = pflag.String("config", "", "path to YAML config file")
	listenAddr      = pflag.String("listen", "", "listen address, overrides the config file")
	backendAddr     = pflag.String("backend", "", "backend address, overrides the config file")
	backendPassword = pflag.String("backend-password", "", "backend password, overrides the config file")
)

func main() {
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("cannot load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *backendAddr != "" {
		cfg.BackendAddr = *backendAddr
	}
	if *backendPassword != "" {
		cfg.BackendPassword = *backendPassword
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		slog.Error("bad configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	backendCfg := backend.Config{
		Addr:     cfg.BackendAddr,
		Password: cfg.BackendPassword,
	}

	// Refuse to start against a backend we cannot reach. Later outages
	// are the health monitor's business.
	ctx := context.Background()
	monitor := backend.NewMonitor(ctx, backendCfg, cfg.HealthInterval.Value(), nil, logger)
	if err := monitor.Check(ctx); err != nil {
		logger.Error("backend unreachable", "backend_addr", cfg.BackendAddr, "error", err)
		os.Exit(1)
	}
	monitor.Start(ctx)
	defer monitor.Close()

	emitter := audit.NewEmitter(audit.NewLogSink(logger), cfg.AuditQueueSize, cfg.AuditWorkers, nil, logger)
	emitter.Start()
	defer emitter.Close()

	proxyHandler := handler.MakeHandler(handler.Config{
		Backend:     backendCfg,
		IdleTimeout: cfg.IdleTimeout.Value(),
		MaxLineLen:  cfg.MaxLineLen,
	}, policy.NewClassifier(cfg.Denylist), emitter, logger)

	err := tcp.ListenAndServeWithSignal(&tcp.Config{Address: cfg.ListenAddr}, proxyHandler, logger)
	if err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
