package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/septivank/meter-telemetry-service/internal/config"
	"github.com/septivank/meter-telemetry-service/internal/db"
	"github.com/septivank/meter-telemetry-service/internal/httpapi"
	"github.com/septivank/meter-telemetry-service/internal/liveness"
	"github.com/septivank/meter-telemetry-service/internal/mq"
	"github.com/septivank/meter-telemetry-service/internal/repository"
	"github.com/septivank/meter-telemetry-service/internal/sample"
	"github.com/septivank/meter-telemetry-service/internal/service"
	"github.com/septivank/meter-telemetry-service/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	handler *httpapi.Handler,
	keys httpapi.APIKeySet,
) {
	router := httpapi.NewRouter(handler, keys)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServicePort),
		Handler: handlers.LoggingHandler(os.Stdout, router),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting http server", zap.Int("port", cfg.ServicePort))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			return srv.Shutdown(ctx)
		},
	})
}

func startConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	ingest *service.IngestService,
) error {
	if conn == nil {
		logger.Info("queue ingest disabled, RABBITMQ_URL not set")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.IngestQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.IngestExchange,
		RoutingKey:    cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		SampleHandler: ingest.HandleQueueMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting queue ingest consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("queue ingest consumer stopped")
			return nil
		},
	})

	return nil
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideValidator creates a new sample validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Telemetry.MaxReadingsPerSample)
}

// ProvideReconstructor creates a new sample reconstructor instance
func ProvideReconstructor(cfg *config.Config) *sample.Reconstructor {
	return sample.NewReconstructor(cfg.Telemetry.SampleOverfetchFactor)
}

// ProvideLivenessEvaluator creates a new liveness evaluator instance
func ProvideLivenessEvaluator(cfg *config.Config) *liveness.Evaluator {
	return liveness.NewEvaluator(time.Duration(cfg.Telemetry.LivenessThresholdSeconds) * time.Second)
}

// ProvideMQConnection creates the RabbitMQ connection when the queue ingest
// path is configured; nil otherwise
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.RabbitMQ.Enabled() {
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the event publisher when MQ is enabled
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	if conn == nil {
		return nil, nil
	}
	return mq.NewPublisher(conn, cfg.RabbitMQ.EventExchange, cfg.RabbitMQ.EventRoutingKey, logger)
}

// ProvideIngestService creates a new ingest service instance
func ProvideIngestService(
	repo *repository.Repository,
	v *validator.Validator,
	publisher *mq.Publisher,
	logger *zap.Logger,
) *service.IngestService {
	// A nil *mq.Publisher must not become a non-nil interface value.
	var events service.EventPublisher
	if publisher != nil {
		events = publisher
	}
	return service.NewIngestService(repo, v, events, logger)
}

// ProvideQueryService creates a new query service instance
func ProvideQueryService(
	repo *repository.Repository,
	reconstructor *sample.Reconstructor,
	livenessEval *liveness.Evaluator,
	cfg *config.Config,
	logger *zap.Logger,
) *service.QueryService {
	return service.NewQueryService(
		repo,
		reconstructor,
		livenessEval,
		cfg.Telemetry.AggregateWindowDays,
		cfg.Telemetry.DashboardRowLimit,
		cfg.Telemetry.MaxSampleLimit,
		logger,
	)
}

// ProvideHandler creates the HTTP API handler
func ProvideHandler(ingest *service.IngestService, query *service.QueryService, logger *zap.Logger) *httpapi.Handler {
	return httpapi.NewHandler(ingest, query, logger)
}

// ProvideAPIKeySet builds the immutable ingest credential allow-list
func ProvideAPIKeySet(cfg *config.Config) httpapi.APIKeySet {
	return httpapi.NewAPIKeySet(cfg.Auth.APIKeys)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}
