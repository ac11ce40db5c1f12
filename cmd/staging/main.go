package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/lakestage/internal/mirror"
	"github.com/your-org/lakestage/internal/staging"
	"github.com/your-org/lakestage/pkg/catalogstore"
	"github.com/your-org/lakestage/pkg/config"
	"github.com/your-org/lakestage/pkg/kafka"
	"github.com/your-org/lakestage/pkg/logger"
	"github.com/your-org/lakestage/pkg/search"
	"github.com/your-org/lakestage/pkg/storage/objectstore"
	"github.com/your-org/lakestage/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  parseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	store, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}
	defer store.Close() //nolint:errcheck

	catalog, err := catalogstore.Open(cfg.Catalog.Path, cfg.Catalog.InMemory, logger.Component(logr, "catalogstore"))
	if err != nil {
		logr.Fatal("open catalog store", zap.Error(err))
	}
	defer catalog.Close() //nolint:errcheck

	changeProducer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.ChangeTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
	})
	deadLetterProducer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.DeadLetterTopic,
		BatchSize:    1,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
	})

	profiles := staging.NewBadgerProfileStore(catalog)
	registry := staging.NewRegistry(profiles)
	recorder := staging.NewRecorder(catalog, staging.NewKafkaChangePublisher(changeProducer), logger.Component(logr, "recorder"))
	mover := staging.NewMover(store, logger.Component(logr, "mover"), cfg.Pipeline.MoveMaxAttempts, cfg.Pipeline.MoveBackoff)

	orch := staging.NewOrchestrator(staging.OrchestratorParams{
		Registry:           registry,
		Validator:          staging.NewValidator(),
		Mover:              mover,
		Recorder:           recorder,
		Store:              store,
		Logger:             logger.Component(logr, "orchestrator"),
		StagingBucket:      cfg.Storage.StagingBucket,
		FailedBucket:       cfg.Storage.FailedBucket,
		StepTimeout:        cfg.Pipeline.StepTimeout,
		StepMaxAttempts:    cfg.Pipeline.StepMaxAttempts,
		StepBackoff:        cfg.Pipeline.StepBackoff,
		RunTimeout:         cfg.Pipeline.RunTimeout,
		MaxValidationBytes: cfg.Pipeline.MaxValidationBytes,
	})

	notifications := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.NotificationGroup,
		Topic:   cfg.Kafka.NotificationTopic,
		MaxWait: cfg.Kafka.MaxWait,
	})
	listener, err := staging.NewListener(notifications, orch, cfg.Pipeline.Workers, logger.Component(logr, "listener"))
	if err != nil {
		logr.Fatal("init listener", zap.Error(err))
	}

	searchClient, err := search.New(search.Config{
		Addresses: cfg.Search.Addresses,
		Index:     cfg.Search.Index,
		Username:  cfg.Search.Username,
		Password:  cfg.Search.Password,
	})
	if err != nil {
		logr.Fatal("init search client", zap.Error(err))
	}

	changes := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.ChangeGroup,
		Topic:   cfg.Kafka.ChangeTopic,
		MaxWait: cfg.Kafka.MaxWait,
	})
	catalogMirror := mirror.New(
		mirror.NewKafkaFeed(changes),
		searchClient,
		mirror.NewKafkaDeadLetter(deadLetterProducer),
		logger.Component(logr, "mirror"),
		cfg.Pipeline.MirrorMaxAttempts,
		cfg.Pipeline.MirrorBackoff,
	)

	handler := staging.NewHTTPHandler(recorder, profiles, logger.Component(logr, "http"))
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		if err := catalogMirror.Run(ctx); err != nil {
			logr.Error("catalog mirror stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := listener.Run(ctx); err != nil {
			logr.Error("ingress listener stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		listener.Close()
		if err := notifications.Close(); err != nil {
			logr.Error("close notification consumer", zap.Error(err))
		}
		if err := changes.Close(); err != nil {
			logr.Error("close change consumer", zap.Error(err))
		}
		if err := changeProducer.Close(shutdownCtx); err != nil {
			logr.Error("close change producer", zap.Error(err))
		}
		if err := deadLetterProducer.Close(shutdownCtx); err != nil {
			logr.Error("close dead letter producer", zap.Error(err))
		}
	}()

	logr.Info("staging engine starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("raw_bucket", cfg.Storage.RawBucket),
		zap.String("staging_bucket", cfg.Storage.StagingBucket),
		zap.String("failed_bucket", cfg.Storage.FailedBucket))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}
}

func parseResourceAttributes(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	attrs := map[string]string{}
	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if !strings.Contains(pair, "=") {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		attrs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return attrs
}
