package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv     string
	AppVersion string
	LogLevel   string

	HTTPAddr string
	GRPCAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CartKeyPrefix       string
	CartTTL             time.Duration
	StoreTimeout        time.Duration
	MutationMaxAttempts int
	IdempotencyTTL      time.Duration
	HealthInterval      time.Duration

	// Kafka is optional: with no brokers the outbox relay and the order
	// consumer are not started.
	KafkaBrokers     []string
	CartEventsTopic  string
	OrderEventsTopic string
	OutboxKey        string

	OTLPEndpoint string
	OTelRatio    float64
}

func Load() Config {
	return Config{
		AppEnv:              getEnv("APP_ENV", "dev"),
		AppVersion:          getEnv("APP_VERSION", "dev"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:            getEnv("GRPC_ADDR", ":50051"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		CartKeyPrefix:       getEnv("CART_KEY_PREFIX", "cart:"),
		CartTTL:             getEnvDuration("CART_TTL", 0),
		StoreTimeout:        getEnvDuration("STORE_TIMEOUT", 2*time.Second),
		MutationMaxAttempts: getEnvInt("MUTATION_MAX_ATTEMPTS", 8),
		IdempotencyTTL:      getEnvDuration("IDEMPOTENCY_TTL", 10*time.Minute),
		HealthInterval:      getEnvDuration("HEALTH_INTERVAL", 5*time.Second),
		KafkaBrokers:        getEnvList("KAFKA_ADDR"),
		CartEventsTopic:     getEnv("CART_EVENTS_TOPIC", "cart.events"),
		OrderEventsTopic:    getEnv("ORDER_EVENTS_TOPIC", "order.events"),
		OutboxKey:           getEnv("OUTBOX_KEY", "cart-outbox"),
		OTLPEndpoint:        getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelRatio:           getEnvFloat("OTEL_SAMPLER_RATIO", 1),
	}
}

func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
