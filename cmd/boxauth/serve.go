package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/boxauth/internal/api"
	"github.com/alecgard/boxauth/internal/authz"
	"github.com/alecgard/boxauth/internal/config"
	"github.com/alecgard/boxauth/internal/gym"
	"github.com/alecgard/boxauth/internal/metrics"
	"github.com/alecgard/boxauth/internal/ratelimit"
	"github.com/alecgard/boxauth/internal/session"
	"github.com/alecgard/boxauth/internal/token"
	"github.com/alecgard/boxauth/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Boxauth identity server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	slog.Info("connected to redis")

	userStore := user.NewStore(pool)
	gymStore := gym.NewStore(pool)

	sessions := session.NewRedisStore(rdb, cfg.Redis.Timeout)
	tokens := token.NewService(token.Config{
		Secret:     cfg.Tokens.Secret,
		Issuer:     cfg.Tokens.Issuer,
		Audience:   cfg.Tokens.Audience,
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
	}, sessions)

	limiter := ratelimit.NewRedisLimiter(rdb, cfg.Redis.Timeout)
	lockout := ratelimit.NewLockout(limiter, cfg.Lockout.MaxFailures, cfg.Lockout.Window)

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	router := api.NewRouter(api.RouterDeps{
		Users:            userStore,
		Gyms:             gymStore,
		Tokens:           tokens,
		Engine:           authz.NewEngine(gymStore),
		Limiter:          limiter,
		Lockout:          lockout,
		Metrics:          m,
		InternalToken:    cfg.Trust.InternalToken,
		GymCreationToken: cfg.Gyms.CreationToken,
		RateLimitDefault: cfg.RateLimit.Default,
		RateLimitWindow:  cfg.RateLimit.Window,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
