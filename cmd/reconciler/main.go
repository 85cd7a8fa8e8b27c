package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/rs/zerolog"

	"reconciliation-service/internal/api"
	"reconciliation-service/internal/config"
	"reconciliation-service/internal/db"
	rsKafka "reconciliation-service/internal/kafka"
	"reconciliation-service/internal/reconcile"
	"reconciliation-service/internal/tasks"
	gormDB "reconciliation-service/pkg/db"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	logger.Info().Str("config", configPath).Msg("reconciliation service starting")

	appCtx, appCancel := context.WithCancel(context.Background())

	database, err := gormDB.NewGormDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	if err := gormDB.AutoMigrate(database, &db.TaskRun{}, &db.MessageDelivery{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	runStore := db.NewRunStore(database)
	deliveryStore := db.NewDeliveryStore(database)

	var publisher reconcile.RunEventPublisher
	var producer *rsKafka.RunEventProducer
	if cfg.Kafka.Enabled {
		writer := rsKafka.NewRunEventWriter(cfg.Kafka.Brokers, cfg.Kafka.RunEventsTopic)
		producer = rsKafka.NewRunEventProducer(writer, logger)
		publisher = producer
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.RunEventsTopic).Msg("run event publishing enabled")
	}

	registry := reconcile.NewRegistry()
	scheduler, err := reconcile.NewScheduler(appCtx, registry, runStore, publisher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create scheduler")
	}

	taskList := buildTasks(cfg, deliveryStore, logger)

	bootstrap := &reconcile.Bootstrap{}
	if _, err := bootstrap.Init(appCtx, scheduler, taskList, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap scheduler")
	}

	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelWarn)

	h := server.Default(server.WithHostPorts(cfg.Server.Addr), server.WithExitWaitTime(5*time.Second))

	adminHandler := api.NewAdminHandler(scheduler, runStore)
	adminGroup := h.Group("/admin")
	{
		adminGroup.POST("/tasks/:id/run", adminHandler.TriggerRun)
		adminGroup.GET("/tasks", adminHandler.GetTasks)
		adminGroup.GET("/runs", adminHandler.GetRuns)
	}
	h.GET("/ping", func(c context.Context, ctxReq *app.RequestContext) {
		ctxReq.JSON(http.StatusOK, utils.H{"message": "pong"})
	})

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		appCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http server shutdown error")
		}

		scheduler.Stop()

		if producer != nil {
			if err := producer.Close(); err != nil {
				logger.Error().Err(err).Msg("kafka producer close error")
			}
		}
		logger.Info().Msg("reconciliation service shut down")
	}()

	logger.Info().Str("addr", cfg.Server.Addr).Msg("serving admin API")
	h.Spin()
}

// buildTasks constructs the concrete reconciliation tasks from config.
// A task whose external credentials are missing is left out entirely rather
// than registered to fail on every run.
func buildTasks(cfg *config.Config, deliveryStore *db.DeliveryStore, logger zerolog.Logger) []reconcile.Task {
	var taskList []reconcile.Task

	bounceCfg := cfg.Tasks[tasks.BounceSyncTaskID]
	if cfg.Postmark.ServerToken == "" {
		logger.Warn().Str("task_id", tasks.BounceSyncTaskID).Msg("postmark server token not configured, task not registered")
		return taskList
	}
	interval, err := bounceCfg.Interval(5 * time.Minute)
	if err != nil {
		logger.Error().Err(err).Str("task_id", tasks.BounceSyncTaskID).Msg("invalid task interval, task not registered")
		return taskList
	}
	settingsJSON, err := bounceCfg.SettingsJSON()
	if err != nil {
		logger.Error().Err(err).Str("task_id", tasks.BounceSyncTaskID).Msg("invalid task settings, task not registered")
		return taskList
	}
	client := tasks.NewPostmarkClient(cfg.Postmark.ServerToken, cfg.Postmark.BaseURL)
	bounceTask, err := tasks.NewBounceSyncTask(
		client,
		deliveryStore,
		reconcile.Schedule{Cron: bounceCfg.Cron, Every: interval},
		bounceCfg.IsEnabled(),
		settingsJSON,
		logger,
	)
	if err != nil {
		logger.Error().Err(err).Str("task_id", tasks.BounceSyncTaskID).Msg("failed to construct task, not registered")
		return taskList
	}
	taskList = append(taskList, bounceTask)
	return taskList
}
