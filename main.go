package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"lorekeep/internal/app"
	"lorekeep/internal/config"
	applogger "lorekeep/internal/logger"
)

func main() {
	logger := slog.New(applogger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && err != context.Canceled {
		slog.Error("application exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()

	application, err := app.New(cfg, deps.DB, deps.Weaviate, deps.NSQProducer, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	if cfg.EnableIngestWorker {
		consumer, err := nsq.NewConsumer(config.TopicIngestTask, "lorekeep", nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq consumer error: %w", err)
		}
		consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
			return application.IngestConsumer.HandleMessage(m)
		}))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			return fmt.Errorf("nsq lookupd connect error: %w", err)
		}
		defer consumer.Stop()
		slog.Info("ingest consumer connected", "topic", config.TopicIngestTask)
	}

	if !cfg.EnableAPI {
		<-ctx.Done()
		return ctx.Err()
	}

	return application.Run(ctx)
}
