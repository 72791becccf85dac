package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	simapp "hemis-telemetry/internal/simulation/application"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

type config struct {
	DatabaseURL    string
	RoleDSNs       string
	HTTPAddr       string
	JWTSecret      string
	LogLevel       string
	LogFormat      string
	MigrateOnStart bool

	PollInterval  time.Duration
	PollLookback  time.Duration
	PollAutostart bool
	StaleAfter    time.Duration
	WSMessageRate float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	KafkaBrokers string
	KafkaTopic   string

	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string

	AlertWebhookURL     string
	AlertWebhookTimeout time.Duration
	AlertTemplate       string
	AlertCooldown       time.Duration
	AlertDedupeWindow   time.Duration

	Simulation simapp.Config
	Alerts     telemetry.AlertThresholds
	Ranges     telemetry.Ranges
}

// fileConfig is the optional HEMIS_CONFIG overlay.
type fileConfig struct {
	Simulation *simapp.Config            `yaml:"simulation"`
	Alerts     *telemetry.AlertThresholds `yaml:"alerts"`
	Ranges     *telemetry.Ranges          `yaml:"ranges"`
}

func loadConfig() (config, error) {
	cfg := config{
		DatabaseURL:    getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		RoleDSNs:       getenvDefault("ROLE_DSNS", ""),
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:      getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		LogLevel:       getenvDefault("LOG_LEVEL", "info"),
		LogFormat:      getenvDefault("LOG_FORMAT", "json"),
		MigrateOnStart: getenvBool("MIGRATE_ON_START", true),

		PollInterval:  getenvDuration("POLL_INTERVAL", time.Second),
		PollLookback:  getenvDuration("POLL_LOOKBACK", 2*time.Second),
		PollAutostart: getenvBool("POLL_AUTOSTART", false),
		StaleAfter:    getenvDuration("STALE_AFTER", 5*time.Minute),
		WSMessageRate: getenvFloatDefault("WS_MAX_MESSAGE_RATE", 20),

		RedisAddr:     getenvDefault("REDIS_ADDR", ""),
		RedisPassword: getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:       getenvIntDefault("REDIS_DB", 0),
		RedisChannel:  getenvDefault("REDIS_CHANNEL", ""),

		KafkaBrokers: getenvDefault("KAFKA_BROKERS", ""),
		KafkaTopic:   getenvDefault("KAFKA_TOPIC", ""),

		MQTTBroker:   getenvDefault("MQTT_BROKER", ""),
		MQTTClientID: getenvDefault("MQTT_CLIENT_ID", ""),
		MQTTTopic:    getenvDefault("MQTT_TOPIC", ""),
		MQTTUsername: getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword: getenvDefault("MQTT_PASSWORD", ""),

		AlertWebhookURL:     getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertWebhookTimeout: getenvDuration("ALERT_WEBHOOK_TIMEOUT", 5*time.Second),
		AlertTemplate:       getenvDefault("ALERT_TEMPLATE", ""),
		AlertCooldown:       getenvDuration("ALERT_COOLDOWN", 0),
		AlertDedupeWindow:   getenvDuration("ALERT_DEDUPE_WINDOW", 5*time.Minute),

		Simulation: simapp.Config{
			MaxRuns:         getenvIntDefault("SIM_MAX_RUNS", 50),
			DefaultDuration: getenvDuration("SIM_DEFAULT_DURATION", 10*time.Minute),
			DefaultInterval: getenvDuration("SIM_DEFAULT_INTERVAL", 30*time.Second),
			StopTimeout:     getenvDuration("SIM_STOP_TIMEOUT", 5*time.Second),
			Retention:       getenvDuration("SIM_RETENTION", time.Hour),
			SweepInterval:   getenvDuration("SIM_SWEEP_INTERVAL", 5*time.Minute),
		},
		Alerts: telemetry.DefaultAlertThresholds(),
		Ranges: telemetry.DefaultRanges(),
	}

	if path := os.Getenv("HEMIS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var overlay fileConfig
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return cfg, err
		}
		cfg.apply(overlay)
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("AUTH_JWT_SECRET is required")
	}
	return cfg, nil
}

func (c *config) apply(overlay fileConfig) {
	if overlay.Simulation != nil {
		sim := *overlay.Simulation
		if sim.MaxRuns > 0 {
			c.Simulation.MaxRuns = sim.MaxRuns
		}
		if sim.DefaultDuration > 0 {
			c.Simulation.DefaultDuration = sim.DefaultDuration
		}
		if sim.DefaultInterval > 0 {
			c.Simulation.DefaultInterval = sim.DefaultInterval
		}
		if sim.StopTimeout > 0 {
			c.Simulation.StopTimeout = sim.StopTimeout
		}
		if sim.Retention > 0 {
			c.Simulation.Retention = sim.Retention
		}
		if sim.SweepInterval > 0 {
			c.Simulation.SweepInterval = sim.SweepInterval
		}
	}
	if overlay.Alerts != nil {
		c.Alerts = *overlay.Alerts
	}
	if overlay.Ranges != nil {
		c.Ranges = *overlay.Ranges
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
