package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ramory-l/gopusher"
	"github.com/ramory-l/gopusher/apps"
	"github.com/ramory-l/gopusher/cluster"
	"github.com/ramory-l/gopusher/config"
	"github.com/ramory-l/gopusher/httpapi"
	"github.com/ramory-l/gopusher/log"
	"github.com/ramory-l/gopusher/metrics"
	"github.com/ramory-l/gopusher/ratelimit"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("debug") {
			cfg.Debug, _ = cmd.Flags().GetBool("debug")
		}

		return run(cmd.Context(), cfg, configPath)
	},
}

func init() {
	startCmd.Flags().String("config", "", "Path to a YAML config file")
	startCmd.Flags().String("host", "", "Listen host (overrides config)")
	startCmd.Flags().Int("port", 0, "Listen port (overrides config)")
	startCmd.Flags().Bool("debug", false, "Enable debug logging")
}

// gateway holds everything run builds so it can be torn down in order
type gateway struct {
	redis    redis.UniversalClient
	pgPool   *pgxpool.Pool
	bolt     *apps.BoltManager
	static   *apps.StaticManager
	registry *prometheus.Registry
}

func (g *gateway) close() {
	if g.bolt != nil {
		g.bolt.Close()
	}
	if g.pgPool != nil {
		g.pgPool.Close()
	}
	if g.redis != nil {
		g.redis.Close()
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := log.Level(cfg.Log.Level)
	if cfg.Debug {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: cfg.Log.JSON})

	g := &gateway{}
	defer g.close()

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Enabled {
		g.registry = prometheus.NewRegistry()
		g.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prom, err := metrics.NewPrometheus(g.registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		recorder = prom
	}

	if cfg.Adapter.Driver == "redis" || cfg.RateLimiter.Driver == "redis" {
		g.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Adapter.Redis.Addr,
			Password: cfg.Adapter.Redis.Password,
			DB:       cfg.Adapter.Redis.DB,
		})
		if err := g.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	appManager, err := g.appManager(ctx, cfg)
	if err != nil {
		return err
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimiter.Driver == "redis" {
		limiter = ratelimit.NewRedis(g.redis, cfg.Adapter.Redis.Prefix+":ratelimit:")
	} else {
		limiter = ratelimit.NewMemory()
	}
	defer limiter.Close()

	local := gopusher.NewLocalAdapter(recorder)
	var adapter gopusher.Adapter = local
	if cfg.Adapter.Driver == "redis" {
		bus := cluster.NewRedisBus(g.redis, cfg.Adapter.Redis.Prefix)
		horizontal, err := gopusher.NewHorizontalAdapter(local, bus, cfg.Adapter.RequestTimeout)
		if err != nil {
			return fmt.Errorf("failed to start horizontal adapter: %w", err)
		}
		adapter = horizontal
	}

	server := gopusher.NewServer(&gopusher.Config{
		ActivityTimeout: cfg.Server.ActivityTimeout,
		PongTimeout:     cfg.Server.PongTimeout,
		MaxMessageSize:  cfg.Server.MaxMessageSize,
		SendBuffer:      cfg.Server.SendBuffer,
		Limits:          cfg.Limits,
	}, appManager, adapter,
		gopusher.WithMetrics(recorder),
		gopusher.WithLimiter(limiter),
	)

	routerConfig := httpapi.Config{
		CORS: httpapi.CORSConfig{
			AllowedOrigins: cfg.CORS.Origins,
			AllowedMethods: cfg.CORS.Methods,
			AllowedHeaders: cfg.CORS.Headers,
		},
		MaxRequestSize: cfg.Server.MaxRequestSize,
	}
	if g.registry != nil {
		routerConfig.Gatherer = g.registry
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httpapi.NewRouter(routerConfig, server, limiter, recorder),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if g.static != nil && configPath != "" {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			g.static.Replace(next.AppManager.Apps)
			log.Info(fmt.Sprintf("Reloaded %d apps", len(next.AppManager.Apps)))
		})
		if err != nil {
			log.Logger.Warn().Err(err).Msg("Config hot reload disabled")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Logger.Info().
			Str("addr", httpServer.Addr).
			Str("adapter", cfg.Adapter.Driver).
			Str("app_manager", cfg.AppManager.Driver).
			Msg("gopusher listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		log.Errorf("HTTP server failed", err)
		server.Close()
		return err
	}

	// clients get 4200 before the listener goes away
	if err := server.Close(); err != nil {
		log.Errorf("Failed to close gateway", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}

	log.Info("Shutdown complete")
	return nil
}

func (g *gateway) appManager(ctx context.Context, cfg *config.Config) (apps.Manager, error) {
	switch cfg.AppManager.Driver {
	case "bolt":
		manager, err := apps.NewBoltManager(cfg.AppManager.Bolt.Path)
		if err != nil {
			return nil, err
		}
		g.bolt = manager
		return manager, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.AppManager.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		g.pgPool = pool
		return apps.NewPostgresManager(pool, cfg.AppManager.Postgres.Table), nil
	default:
		g.static = apps.NewStaticManager(cfg.AppManager.Apps)
		return g.static, nil
	}
}
