package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/config"
	httptransport "github.com/smallbiznis/smallbiznis-gateway/internal/http"
	"github.com/smallbiznis/smallbiznis-gateway/internal/http/handler"
	"github.com/smallbiznis/smallbiznis-gateway/internal/oauth"
	"github.com/smallbiznis/smallbiznis-gateway/internal/registry"
	"github.com/smallbiznis/smallbiznis-gateway/internal/repository"
	"github.com/smallbiznis/smallbiznis-gateway/internal/server"
	"github.com/smallbiznis/smallbiznis-gateway/internal/service"
	"github.com/smallbiznis/smallbiznis-gateway/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newPGXPool,
			newRedisClient,
			newRegistry,
			newConfigurationRepository,
			newAuthenticationRepository,
			newSessionStore,
			newOAuth1Client,
			newOAuth2Client,
			newAuthService,
			service.NewRefresher,
			service.NewProxyBuilder,
			newForwarder,
			service.NewConfigurationService,
			handler.NewAuthHandler,
			handler.NewProxyHandler,
			handler.NewAPIHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

func newRegistry(cfg config.Config, logger *zap.Logger) *registry.Registry {
	return registry.New(cfg.DefinitionsDir, logger)
}

func newConfigurationRepository(pool *pgxpool.Pool) repository.ConfigurationRepository {
	return repository.NewPostgresConfigurationRepo(pool)
}

func newAuthenticationRepository(pool *pgxpool.Pool) repository.AuthenticationRepository {
	return repository.NewPostgresAuthenticationRepo(pool)
}

func newSessionStore(client *redis.Client) repository.SessionStore {
	return repository.NewRedisSessionStore(client)
}

func newOAuth1Client() *oauth.OAuth1Client {
	return oauth.NewOAuth1Client(http.DefaultClient)
}

func newOAuth2Client() *oauth.OAuth2Client {
	return oauth.NewOAuth2Client(http.DefaultClient)
}

func newAuthService(
	reg *registry.Registry,
	configs repository.ConfigurationRepository,
	auths repository.AuthenticationRepository,
	sessions repository.SessionStore,
	oauth1 *oauth.OAuth1Client,
	oauth2 *oauth.OAuth2Client,
	cfg config.Config,
	logger *zap.Logger,
) service.AuthService {
	return service.NewAuthService(reg, configs, auths, sessions, oauth1, oauth2, cfg.CallbackURL, cfg.SessionTTL, logger)
}

func newForwarder(logger *zap.Logger) *service.Forwarder {
	return service.NewForwarder(http.DefaultClient, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
