package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	app "github.com/R3E-Network/karma_ledger/internal/app"
	"github.com/R3E-Network/karma_ledger/internal/app/events"
	"github.com/R3E-Network/karma_ledger/internal/app/httpapi"
	"github.com/R3E-Network/karma_ledger/internal/config"
	"github.com/R3E-Network/karma_ledger/internal/middleware"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the emission scheduler",
		Long: `Start the ledger HTTP API. Unless scheduling is disabled, the protocol
emission engine also runs on the configured interval.

Example:
  karmad serve --config karma.yaml
  KARMA_DB_DRIVER=memory karmad serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	log := opts.logger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.WithError(err).Warn("close database")
		}
	}()

	emCfg, err := emissionConfig(cfg)
	if err != nil {
		return err
	}
	publisher, err := events.NewPublisher(events.Config{
		Enabled: cfg.Kafka.Enabled,
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Acks:    cfg.Kafka.Acks,
	}, log.WithComponent("events"))
	if err != nil {
		return WrapExitError(ExitConfigError, "block publisher", err)
	}

	application, err := app.New(app.Options{Store: store, Emission: emCfg, Publisher: publisher}, log)
	if err != nil {
		return err
	}

	var issuer *middleware.TokenIssuer
	if cfg.Auth.JWTSecret != "" {
		if issuer, err = middleware.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL); err != nil {
			return WrapExitError(ExitConfigError, "token issuer", err)
		}
	} else {
		log.Warn("KARMA_JWT_SECRET not set; wallet routes disabled")
	}
	if cfg.Auth.AdminKey == "" {
		log.Warn("KARMA_ADMIN_KEY not set; admin routes disabled")
	}

	limiter, err := buildRateLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}

	handler, err := httpapi.NewHandler(application, httpapi.Config{
		Issuer:      issuer,
		AdminKey:    cfg.Auth.AdminKey,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		Limiter:     limiter,
		AuditFile:   cfg.Auth.AuditFile,
	}, log.WithComponent("http"))
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.WithError(serveErr).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stop services")
	}
	log.Info("karmad stopped")
	return serveErr
}

// buildRateLimiter returns nil when rate limiting is disabled.
func buildRateLimiter(ctx context.Context, cfg config.Config, log *logger.Logger) (*middleware.RateLimiter, error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, nil
	}

	var limiter middleware.Limiter
	switch rl.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, WrapExitError(ExitConfigError, "connect redis", err)
		}
		go func() {
			<-ctx.Done()
			client.Close()
		}()
		limiter = middleware.NewRedisLimiter(client, "", rl.Requests, rl.Window)
	default:
		mem := middleware.NewMemoryLimiter(rl.Requests, rl.Window, rl.Burst)
		go func() {
			ticker := time.NewTicker(rl.Window)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					mem.Cleanup()
				}
			}
		}()
		limiter = mem
	}

	log.WithField("backend", rl.Backend).
		WithField("requests", rl.Requests).
		WithField("window", rl.Window.String()).
		Info("rate limiting enabled")
	return middleware.NewRateLimiter(limiter, rl.Requests, rl.Window, log.WithComponent("ratelimit")), nil
}
