package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"lorekeep/internal/middleware"
)

// Consumer handles ingest.task messages. Malformed payloads are
// dropped; transient pipeline failures are returned so NSQ requeues
// the message.
type Consumer struct {
	pipeline *Pipeline
	timeout  time.Duration
}

func NewConsumer(pipeline *Pipeline) *Consumer {
	return &Consumer{pipeline: pipeline, timeout: 10 * time.Minute}
}

func (c *Consumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var doc Document
	if err := json.Unmarshal(m.Body, &doc); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if doc.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, doc.CorrelationID)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.pipeline.Process(ctx, doc); err != nil {
		slog.ErrorContext(ctx, "ingestion failed, requeueing",
			"sourceRef", doc.SourceRef,
			"collection", doc.Collection,
			"error", err)
		return err
	}
	return nil
}
