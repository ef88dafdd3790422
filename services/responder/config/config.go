package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the responder service.
type Config struct {
	LogLevel     string
	KafkaBrokers string
	RedisAddr    string

	SendAttempts  int
	SendBaseDelay time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		RedisAddr:        v.GetString("redis_addr"),
		SendAttempts:     v.GetInt("send_attempts"),
		SendBaseDelay:    v.GetDuration("send_base_delay"),
		TwilioAccountSID: v.GetString("twilio_account_sid"),
		TwilioAuthToken:  v.GetString("twilio_auth_token"),
		TwilioFromNumber: v.GetString("twilio_from_number"),
		MetricsAddr:      v.GetString("metrics_addr"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
	}
}
