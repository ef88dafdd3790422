package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/kafka"
	redisstore "github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/redis"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/whatsapp"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/telemetry"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/services/responder"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/services/responder/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the responder",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for sessions and delivery dedup")
	serveCmd.Flags().Int("send-attempts", 3, "delivery attempts per result before giving up")
	serveCmd.Flags().Duration("send-base-delay", time.Second, "backoff base between delivery attempts")
	serveCmd.Flags().String("twilio-from-number", "", "business WhatsApp number messages are sent from")
	serveCmd.Flags().String("metrics-addr", ":9093", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("send_attempts", serveCmd.Flags(), "send-attempts")
	bindFlag("send_base_delay", serveCmd.Flags(), "send-base-delay")
	bindFlag("twilio_from_number", serveCmd.Flags(), "twilio-from-number")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("twilio_account_sid", "TWILIO_ACCOUNT_SID")
	_ = viper.BindEnv("twilio_auth_token", "TWILIO_AUTH_TOKEN")
	_ = viper.BindEnv("twilio_from_number", "TWILIO_FROM_NUMBER")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "responder")

	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		return fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set")
	}
	if cfg.TwilioFromNumber == "" {
		return fmt.Errorf("twilio_from_number must be set")
	}

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "responder", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	consumer := kafka.NewConsumer(brokers, kafka.TopicResponse, "responder-group", logger)
	defer func() { _ = consumer.Close() }()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	sessions := redisstore.NewSessionStore(redisClient)
	dedup := redisstore.NewDedupStore(redisClient)
	sender := whatsapp.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)

	r := responder.NewResponder(consumer, sessions, dedup, sender,
		responder.WithSendAttempts(cfg.SendAttempts),
		responder.WithBaseDelay(cfg.SendBaseDelay),
		responder.WithLogger(logger),
	)

	runCtx, runCancel := context.WithCancel(context.Background())
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		func(ctx context.Context) error { return kafka.Ping(ctx, brokers) },
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		runCancel()
	}()

	logger.Info("responder starting",
		"topic", kafka.TopicResponse,
		"send_attempts", cfg.SendAttempts,
	)

	if err := r.Run(runCtx); err != nil {
		return fmt.Errorf("responder: %w", err)
	}
	logger.Info("stopped cleanly")
	return nil
}
