package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

// Collector samples host CPU, memory and disk usage and publishes the
// readings onto the metric stream, so the engine can watch its own host
// through the same thresholds as any other device.
type Collector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	deviceID string
	interval time.Duration
	stop     chan struct{}
}

// NewCollector creates a self-monitoring collector
func NewCollector(js nats.JetStreamContext, deviceID string, interval time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		logger:   logger.Named("self-monitor"),
		js:       js,
		deviceID: deviceID,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *Collector) Start(ctx context.Context) error {
	c.logger.Info("Starting self-monitoring collector",
		zap.String("device_id", c.deviceID),
		zap.Duration("interval", c.interval))

	go c.collectLoop(ctx)
	return nil
}

// Stop stops the collection loop
func (c *Collector) Stop() {
	c.logger.Info("Stopping self-monitoring collector")
	close(c.stop)
}

func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	now := time.Now()

	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		c.publish(string(model.ThresholdTypeCPUUsage), cpuPercent[0], now)
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		c.publish(string(model.ThresholdTypeMemoryUsage), memInfo.UsedPercent, now)
	}

	diskInfo, err := disk.Usage("/")
	if err != nil {
		c.logger.Error("Failed to get disk usage", zap.Error(err))
	} else {
		c.publish(string(model.ThresholdTypeDiskUsage), diskInfo.UsedPercent, now)
	}
}

func (c *Collector) publish(metricType string, value float64, ts time.Time) {
	sample := model.AlertMetric{
		DeviceID:   c.deviceID,
		DeviceName: c.deviceID,
		MetricType: metricType,
		Value:      value,
		Timestamp:  ts,
	}

	data, err := json.Marshal(sample)
	if err != nil {
		c.logger.Error("Failed to marshal sample", zap.Error(err))
		return
	}

	if _, err := c.js.Publish("metric.sample."+c.deviceID, data); err != nil {
		c.logger.Error("Failed to publish sample",
			zap.String("metric_type", metricType),
			zap.Error(err))
		return
	}

	c.logger.Debug("Self-monitoring sample published",
		zap.String("metric_type", metricType),
		zap.Float64("value", value))
}
