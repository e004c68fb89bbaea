package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/internal/config"
	"github.com/MarkoPoloResearchLab/unitclaims/internal/events/amqpevents"
	"github.com/MarkoPoloResearchLab/unitclaims/internal/lock/redislock"
	"github.com/MarkoPoloResearchLab/unitclaims/internal/oplog"
	"github.com/MarkoPoloResearchLab/unitclaims/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

// application holds the wired coordinator and the resources backing it.
type application struct {
	logger  *zap.Logger
	service *claims.Service
}

// withRuntime opens every backing resource, runs fn, then releases them in reverse order.
func withRuntime(ctx context.Context, cfg *config.Config, fn func(app *application) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	options := []claims.ServiceOption{
		claims.WithOperationLogger(oplog.New(logger)),
		claims.WithPolicy(cfg.Policy()),
	}

	if cfg.RedisURL != "" {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOptions)
		defer func() { _ = client.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		options = append(options, claims.WithUnitLocker(redislock.New(client, redislock.WithLogger(logger))))
	}

	if cfg.AMQPURL != "" {
		publisher, err := amqpevents.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("amqp connect: %w", err)
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Warn("amqp close", zap.Error(closeErr))
			}
		}()
		options = append(options, claims.WithEventPublisher(publisher))
	}

	service, err := claims.NewService(gormstore.New(gormDB), func() time.Time { return time.Now().UTC() }, options...)
	if err != nil {
		return fmt.Errorf("claims service init: %w", err)
	}
	return fn(&application{logger: logger, service: service})
}
