package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/database"
	auditrepo "github.com/Ramsey-B/fern/internal/repositories/audit"
	pairrepo "github.com/Ramsey-B/fern/internal/repositories/duplicatepair"
	leadrepo "github.com/Ramsey-B/fern/internal/repositories/lead"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/policy"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/review"
	"github.com/Ramsey-B/fern/pkg/routes/duplicates"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/leads"
	"github.com/Ramsey-B/fern/pkg/scanner"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shut down tracer provider")
		}
	}()

	db, err := database.Connect(ctx, database.Settings{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
		RetryCount:      cfg.DatabaseReconnectRetryCount,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.WithError(err).Error("Failed to run database migrations")
		os.Exit(1)
	}

	leadRepo := leadrepo.NewRepository(db, logger)
	pairRepo := pairrepo.NewRepository(db, logger)
	auditRepo := auditrepo.NewRepository(db, logger)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()

	emitter := events.NewEmitter(producer, logger)

	aggregator := matching.NewAggregator(matching.Weights{
		models.FieldPhone:    cfg.WeightPhone,
		models.FieldEmail:    cfg.WeightEmail,
		models.FieldName:     cfg.WeightName,
		models.FieldLocation: cfg.WeightLocation,
	})

	scanEngine := scanner.NewEngine(logger, leadRepo, pairRepo, aggregator, emitter, scanner.Config{
		MinConfidence:    cfg.ScanMinConfidence,
		WorkerCount:      cfg.ScanWorkerCount,
		PartitionTimeout: cfg.ScanPartitionTimeout,
		WriteRetries:     cfg.ScanPartitionWriteRetries,
	})
	mergeEngine := merging.NewEngine(logger, leadRepo, pairRepo, auditRepo, emitter)
	reviewService := review.NewService(logger, pairRepo, leadRepo, auditRepo, emitter)
	leadProcessor := processor.NewProcessor(logger, leadRepo, emitter)

	if err := registerDependencies(leadRepo, leadProcessor, scanEngine, mergeEngine, reviewService); err != nil {
		logger.WithError(err).Error("Failed to register dependencies")
		os.Exit(1)
	}

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaLeadTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, leadProcessor.ProcessMessage)
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Failed to start Kafka consumer")
			os.Exit(1)
		}
		defer consumer.Stop()
	}

	scheduler := scanner.NewScheduler(logger, scanEngine, time.Duration(cfg.ScanIntervalMinutes)*time.Minute)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	autoMerger := policy.NewAutoMerger(logger, pairRepo, mergeEngine, policy.Config{
		Enabled:       cfg.AutoMergeEnabled,
		MinConfidence: cfg.AutoMergeMinConfidence,
		Interval:      time.Duration(cfg.AutoMergeIntervalMinutes) * time.Minute,
	})
	autoMerger.Start(ctx)
	defer autoMerger.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.HTTPErrorHandler = middleware.Error(logger)

	checker := health.NewChecker(db, consumerHealth(consumer), version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	leads.Register(api.Group("/leads"))
	duplicates.Register(api.Group("/duplicates"))

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.WithFields(map[string]any{"addr": addr}).Info("Starting HTTP server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()

	checker.SetReady(true)

	<-ctx.Done()
	checker.SetReady(false)
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server cleanly")
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// runMigrations uses a dedicated connection so a failed migration never
// leaves the main pool in a weird state
func runMigrations(cfg *config.Config, logger ectologger.Logger) error {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return err
	}

	service := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return service.Migrate(cfg.DatabaseName, driver)
}

func registerDependencies(
	leadRepo *leadrepo.Repository,
	leadProcessor *processor.Processor,
	scanEngine *scanner.Engine,
	mergeEngine *merging.Engine,
	reviewService *review.Service,
) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}

	if err := ectoinject.RegisterInstance[*leadrepo.Repository](container, leadRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*processor.Processor](container, leadProcessor); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*scanner.Engine](container, scanEngine); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*merging.Engine](container, mergeEngine); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*review.Service](container, reviewService)
}

// consumerHealth avoids handing the checker a typed nil when the
// consumer is disabled
func consumerHealth(c *kafka.Consumer) interface{ Health() bool } {
	if c == nil {
		return nil
	}
	return c
}
