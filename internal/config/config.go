package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MatchingConfig holds the pooling tunables. The proximity threshold and
// retry bound are deliberate knobs, not literals buried in the engine.
type MatchingConfig struct {
	ProximityThresholdKm float64
	MatchRetries         int
	DefaultSeatCap       int
	DefaultLuggageCap    int
}

// PricingConfig drives fare quotes.
type PricingConfig struct {
	BaseFare     float64
	PerKmRate    float64
	DiscountStep float64
	DiscountCap  float64
}

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	Matching MatchingConfig
	Pricing  PricingConfig

	StripeAPIKey string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "trips_geo",
		KafkaTopic:      "ride-events",
		Matching: MatchingConfig{
			ProximityThresholdKm: 5.0,
			MatchRetries:         3,
			DefaultSeatCap:       4,
			DefaultLuggageCap:    4,
		},
		Pricing: PricingConfig{
			BaseFare:     10.0,
			PerKmRate:    2.0,
			DiscountStep: 0.10,
			DiscountCap:  0.50,
		},
		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	setFloatFromEnv(&cfg.Matching.ProximityThresholdKm, "MATCH_PROXIMITY_KM", &errs)
	setIntFromEnv(&cfg.Matching.MatchRetries, "MATCH_RETRIES", &errs)
	setIntFromEnv(&cfg.Matching.DefaultSeatCap, "VEHICLE_SEAT_CAPACITY", &errs)
	setIntFromEnv(&cfg.Matching.DefaultLuggageCap, "VEHICLE_LUGGAGE_CAPACITY", &errs)

	setFloatFromEnv(&cfg.Pricing.BaseFare, "PRICING_BASE_FARE", &errs)
	setFloatFromEnv(&cfg.Pricing.PerKmRate, "PRICING_PER_KM_RATE", &errs)
	setFloatFromEnv(&cfg.Pricing.DiscountStep, "PRICING_DISCOUNT_STEP", &errs)
	setFloatFromEnv(&cfg.Pricing.DiscountCap, "PRICING_DISCOUNT_CAP", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.Matching.ProximityThresholdKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_PROXIMITY_KM must be > 0"))
	}
	if cfg.Matching.MatchRetries <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RETRIES must be > 0"))
	}
	if cfg.Matching.DefaultSeatCap <= 0 {
		errs = append(errs, fmt.Errorf("VEHICLE_SEAT_CAPACITY must be > 0"))
	}
	if cfg.Matching.DefaultLuggageCap < 0 {
		errs = append(errs, fmt.Errorf("VEHICLE_LUGGAGE_CAPACITY must be >= 0"))
	}
	if cfg.Pricing.DiscountCap >= 1.0 {
		errs = append(errs, fmt.Errorf("PRICING_DISCOUNT_CAP must be < 1.0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives the ride-event projection worker.
type ConsumerConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	LogLevel string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-events",
		KafkaGroup:   "ride-pooling-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "trips_geo",
		LogLevel:     "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
