package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the worker service.
type Config struct {
	LogLevel     string
	KafkaBrokers string
	PostgresDSN  string
	WorkerKind   string
	MaxRetries   int
	TaskTimeout  time.Duration

	OpenAIAPIKey string
	OpenAIModel  string

	S3Bucket string

	TwilioAccountSID string
	TwilioAuthToken  string

	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		PostgresDSN:      v.GetString("postgres_dsn"),
		WorkerKind:       v.GetString("worker_kind"),
		MaxRetries:       v.GetInt("max_retries"),
		TaskTimeout:      v.GetDuration("task_timeout"),
		OpenAIAPIKey:     v.GetString("openai_api_key"),
		OpenAIModel:      v.GetString("openai_model"),
		S3Bucket:         v.GetString("s3_bucket"),
		TwilioAccountSID: v.GetString("twilio_account_sid"),
		TwilioAuthToken:  v.GetString("twilio_auth_token"),
		MetricsAddr:      v.GetString("metrics_addr"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
	}
}
