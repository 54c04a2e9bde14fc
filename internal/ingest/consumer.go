package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

const (
	metricStreamName    = "METRICS"
	metricSampleSubject = "metric.sample.*"
	streamMaxAge        = 24 * time.Hour
	operationTimeout    = 30 * time.Second
)

// SampleSink receives ingested metric samples
type SampleSink interface {
	OnSample(ctx context.Context, sample *model.AlertMetric)
}

// Consumer subscribes to the metric stream and feeds samples to the engine
type Consumer struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	sink   SampleSink
	sub    *nats.Subscription
}

// NewConsumer creates a metric sample consumer
func NewConsumer(js nats.JetStreamContext, sink SampleSink, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{
		logger: logger.Named("ingest"),
		js:     js,
		sink:   sink,
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := c.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup metric stream: %w", err)
	}

	return c, nil
}

func (c *Consumer) setupStream(ctx context.Context) error {
	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:     metricStreamName,
		Subjects: []string{"metric.*", "metric.*.*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
	}, nats.Context(ctx))

	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			c.logger.Info("Stream already exists", zap.String("stream", metricStreamName))
			return nil
		}
		return err
	}

	c.logger.Info("Stream created successfully", zap.String("stream", metricStreamName))
	return nil
}

// Start subscribes to metric samples
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.js.Subscribe(metricSampleSubject, func(msg *nats.Msg) {
		c.handleSample(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to metric samples: %w", err)
	}
	c.sub = sub

	c.logger.Info("Metric ingestion started")
	return nil
}

// Stop unsubscribes from the metric stream
func (c *Consumer) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

func (c *Consumer) handleSample(ctx context.Context, msg *nats.Msg) {
	var sample model.AlertMetric
	if err := json.Unmarshal(msg.Data, &sample); err != nil {
		c.logger.Error("Failed to unmarshal metric sample", zap.Error(err))
		return
	}

	// Subject format: metric.sample.<device_id>
	if sample.DeviceID == "" {
		parts := strings.Split(msg.Subject, ".")
		if len(parts) == 3 {
			sample.DeviceID = parts[2]
		}
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	c.sink.OnSample(ctx, &sample)
}
