package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/assign"
	"github.com/t77yq/escalation-engine/internal/chain"
	"github.com/t77yq/escalation-engine/internal/config"
	"github.com/t77yq/escalation-engine/internal/engine"
	"github.com/t77yq/escalation-engine/internal/ingest"
	"github.com/t77yq/escalation-engine/internal/notify"
	"github.com/t77yq/escalation-engine/internal/sched"
	"github.com/t77yq/escalation-engine/internal/storage"
	"github.com/t77yq/escalation-engine/internal/ticket"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("nats.max_reconnects", 10)
	viper.SetDefault("nats.reconnect_wait", 2*time.Second)
	viper.SetDefault("nats.connect_timeout", 5*time.Second)
	viper.SetDefault("storage.path", "escalations.db")
	viper.SetDefault("self_monitor.enabled", true)
	viper.SetDefault("self_monitor.interval", 30*time.Second)
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("No config file found, using defaults", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Event stream for alert, ticket and action publishes
	if err := engine.SetupEventStream(js, logger); err != nil {
		logger.Fatal("Failed to setup event stream", zap.Error(err))
	}

	// Configuration store and core components
	store := config.NewStore(logger)
	clock := engine.SystemClock()
	ledger := engine.NewBreachLedger()
	decider := engine.NewDecider(ledger, clock, logger)
	store.OnThresholdDeleted(ledger.Prune)
	store.OnThresholdDeleted(decider.Forget)

	// Execution persistence
	execStore, err := storage.NewSQLiteExecutionStore(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to create execution store", zap.Error(err))
	}
	defer execStore.Close()

	// Notification channels
	notifier := notify.NewRegistry(logger)
	if viper.IsSet("notify.email.host") {
		notifier.Register("email", notify.NewEmailDispatcher(notify.EmailConfig{
			Host:     viper.GetString("notify.email.host"),
			Port:     viper.GetInt("notify.email.port"),
			Username: viper.GetString("notify.email.username"),
			Password: viper.GetString("notify.email.password"),
			From:     viper.GetString("notify.email.from"),
		}, logger))
	}
	if viper.IsSet("notify.chat.webhook_url") {
		notifier.Register("chat", notify.NewChatDispatcher(
			viper.GetString("notify.chat.webhook_url"), logger))
	}

	// Ticket repository
	tickets := ticket.NewJetStreamRepository(js, logger)

	// Assignment and chain traversal
	resolver := assign.NewResolver(store, logger)
	runner := chain.NewRunner(resolver, notifier, store, execStore, clock, logger)

	// Engine façade
	eng := engine.NewEngine(js, ledger, decider, store, tickets, notifier, runner, clock, logger)
	store.OnThresholdDeleted(eng.ForgetThreshold)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Resume escalations that were active before the last shutdown
	if err := runner.Resume(ctx); err != nil {
		logger.Error("Failed to resume active escalations", zap.Error(err))
	}

	// Metric ingestion
	consumer, err := ingest.NewConsumer(js, eng, logger)
	if err != nil {
		logger.Fatal("Failed to create metric consumer", zap.Error(err))
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start metric consumer", zap.Error(err))
	}
	defer consumer.Stop()

	// Self-monitoring
	if viper.GetBool("self_monitor.enabled") {
		hostname, _ := os.Hostname()
		collector := ingest.NewCollector(js, hostname,
			viper.GetDuration("self_monitor.interval"), logger)
		if err := collector.Start(ctx); err != nil {
			logger.Fatal("Failed to start self-monitoring", zap.Error(err))
		}
		defer collector.Stop()
	}

	// Periodic maintenance
	checker := sched.NewChecker(runner, execStore, sched.DefaultCheckerConfig(), logger)
	if err := checker.Start(ctx); err != nil {
		logger.Fatal("Failed to start periodic checker", zap.Error(err))
	}
	defer checker.Stop()
	defer runner.Stop()

	// Periodic statistics logging
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := eng.Stats()
				logger.Info("Engine statistics",
					zap.Int64("samples_processed", stats.SamplesProcessed),
					zap.Int64("breaches_recorded", stats.BreachesRecorded),
					zap.Int64("escalations_started", stats.EscalationsStarted),
					zap.Int64("action_failures", stats.ActionFailures))
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("Server shutting down gracefully")
}
