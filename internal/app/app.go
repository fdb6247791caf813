// Package app wires configuration, infrastructure and the HTTP API into a
// runnable user service and owns its startup and shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/microshop/user-service/internal/api"
	"github.com/microshop/user-service/internal/api/handler"
	"github.com/microshop/user-service/internal/core/service"
	"github.com/microshop/user-service/internal/infrastructure/broker"
	mongostore "github.com/microshop/user-service/internal/infrastructure/db/mongo"
	rediscache "github.com/microshop/user-service/internal/infrastructure/db/redis"
	"github.com/microshop/user-service/internal/infrastructure/queue"
	"github.com/microshop/user-service/internal/pkg/config"
)

// Application encapsulates the user service with all its dependencies.
type Application struct {
	cfg *config.Config
	log zerolog.Logger

	// Infrastructure
	mongo      *mongo.Client
	redis      *goredis.Client
	publisher  *broker.Publisher
	dispatcher *queue.Dispatcher

	// HTTP server
	echo *echo.Echo
}

// New connects every dependency and builds the HTTP API. Any failure is
// fatal: already opened connections are released and the error returned.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, error) {
	app := &Application{cfg: cfg, log: log}
	ready := false
	defer func() {
		if !ready {
			_ = app.release(context.Background())
		}
	}()

	client, db, err := mongostore.Connect(ctx, mongoConfig(cfg))
	if err != nil {
		return nil, err
	}
	app.mongo = client
	log.Info().Str("database", db.Name()).Msg("mongo connected")

	repo := mongostore.NewUserRepository(db)
	if err := prepareStore(ctx, repo); err != nil {
		return nil, err
	}

	app.redis, err = rediscache.Connect(ctx, rediscache.Config{URL: cfg.Redis.URL})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("redis connected")

	app.publisher = broker.NewPublisher(newTransport(cfg.Broker), cfg.Broker.Topic, log)
	if err := app.publisher.Initialize(ctx); err != nil {
		return nil, err
	}

	app.dispatcher = queue.NewDispatcher(cfg.Dispatcher.Workers, cfg.Dispatcher.Buffer, log)
	// Tasks must outlive the signal context so the queue can drain on shutdown.
	app.dispatcher.Start(context.Background())

	users := service.NewUserService(
		repo,
		rediscache.NewCache(app.redis),
		app.publisher,
		app.dispatcher,
		cfg.Redis.CacheTTL,
		log,
	)
	app.echo = api.NewRouter(users, app.healthHandler(), log, nil)

	ready = true
	return app, nil
}

// Run serves HTTP until ctx is cancelled or SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func (app *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + app.cfg.Port
		app.log.Info().Str("addr", addr).Str("env", app.cfg.Env).Msg("user service listening")
		if err := app.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownTimeout)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting requests, drains queued side effects, and then
// closes the broker, Redis and Mongo in that order.
func (app *Application) Shutdown(ctx context.Context) error {
	app.log.Info().Msg("shutting down user service...")

	var errs []error
	if app.echo != nil {
		if err := app.echo.Shutdown(ctx); err != nil {
			app.log.Error().Err(err).Msg("graceful server shutdown failed")
			_ = app.echo.Close()
			errs = append(errs, err)
		}
	}

	if err := app.release(ctx); err != nil {
		errs = append(errs, err)
	}

	app.log.Info().Msg("user service stopped")
	return errors.Join(errs...)
}

// release tears down everything except the HTTP server.
func (app *Application) release(ctx context.Context) error {
	var errs []error

	if app.dispatcher != nil {
		if err := app.dispatcher.Stop(ctx); err != nil {
			app.log.Error().Err(err).Msg("side effects not drained")
			errs = append(errs, err)
		}
	}
	if app.publisher != nil {
		app.publisher.Shutdown()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Error().Err(err).Msg("error closing redis")
			errs = append(errs, err)
		}
	}
	if app.mongo != nil {
		if err := app.mongo.Disconnect(ctx); err != nil {
			app.log.Error().Err(err).Msg("error disconnecting mongo")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (app *Application) healthHandler() *handler.HealthHandler {
	return handler.NewHealthHandler(
		handler.Check{
			Name:     "mongodb",
			Critical: true,
			Probe:    func(ctx context.Context) error { return app.mongo.Ping(ctx, nil) },
		},
		handler.Check{
			Name:     "redis",
			Critical: true,
			Probe:    func(ctx context.Context) error { return app.redis.Ping(ctx).Err() },
		},
		handler.Check{
			Name:  "broker",
			Probe: brokerProbe(app.publisher),
		},
	)
}

// brokerProbe reports the publisher state. A disconnected publisher reconnects
// on the next publish, so it does not take the service out of rotation.
func brokerProbe(p *broker.Publisher) func(context.Context) error {
	return func(context.Context) error {
		if s := p.State(); s != broker.StateConnected {
			return fmt.Errorf("publisher %s", s)
		}
		return nil
	}
}

// EnsureIndexes connects to Mongo, creates the users collection and its unique
// indexes, and disconnects.
func EnsureIndexes(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	client, db, err := mongostore.Connect(ctx, mongoConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	if err := prepareStore(ctx, mongostore.NewUserRepository(db)); err != nil {
		return err
	}
	log.Info().Str("database", db.Name()).Msg("users collection and indexes ready")
	return nil
}

func prepareStore(ctx context.Context, repo *mongostore.UserRepository) error {
	if err := repo.EnsureCollection(ctx); err != nil {
		return err
	}
	return repo.EnsureIndexes(ctx)
}

func mongoConfig(cfg *config.Config) mongostore.Config {
	return mongostore.Config{
		URI:                    cfg.Mongo.URI,
		Database:               cfg.Mongo.Database,
		MaxPoolSize:            cfg.Mongo.MaxPoolSize,
		SocketTimeout:          cfg.Mongo.SocketTimeout,
		ServerSelectionTimeout: cfg.Mongo.ServerSelectionTimeout,
	}
}

func newTransport(cfg config.BrokerConfig) broker.Transport {
	if cfg.Driver == config.BrokerAMQP {
		return broker.NewAMQPTransport(broker.AMQPConfig{
			URL:            cfg.AMQPURL,
			ConnectionName: cfg.ClientID,
		})
	}
	return broker.NewKafkaTransport(broker.KafkaConfig{
		Brokers:      cfg.KafkaBrokers,
		ClientID:     cfg.ClientID,
		Retries:      cfg.Retries,
		RetryBackoff: cfg.RetryBackoff,
	})
}
