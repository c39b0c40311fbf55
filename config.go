package main

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	HTTPAddr             string        `yaml:"http_addr"`
	DataDir              string        `yaml:"data_dir"`
	DeviceID             string        `yaml:"device_id"`
	DatabaseURL          string        `yaml:"database_url"`
	MQTTBrokerURL        string        `yaml:"mqtt_broker_url"`
	MQTTTopic            string        `yaml:"mqtt_topic"`
	UpstreamOrigin       string        `yaml:"upstream_origin"`
	PublicOrigin         string        `yaml:"public_origin"`
	CacheVersion         int           `yaml:"cache_version"`
	JWTSecret            string        `yaml:"auth_jwt_secret"`
	IngestSecret         string        `yaml:"ingest_hmac_secret"`
	IngestSkewSeconds    int           `yaml:"ingest_max_skew_seconds"`
	AlertWebhookURL      string        `yaml:"alert_webhook_url"`
	AlertNotifyTemplate  string        `yaml:"alert_notify_template"`
	AlertEscalationAfter time.Duration `yaml:"alert_escalation_after"`
	AlertNotifyCooldown  time.Duration `yaml:"alert_notify_cooldown"`
	AlertNotifyTimeout   time.Duration `yaml:"alert_notify_timeout"`
	SyncInterval         time.Duration `yaml:"sync_interval"`
	SyncMaxAttempts      int           `yaml:"sync_max_attempts"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	SimulationInterval   time.Duration `yaml:"simulation_interval"`
	Simulate             bool          `yaml:"simulate"`
}

// loadConfig reads the environment and overlays the YAML file named by COSAFE_CONFIG.
func loadConfig() (config, error) {
	cfg := config{
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		DataDir:              getenvDefault("DATA_DIR", "var/cosafe"),
		DeviceID:             getenvDefault("DEVICE_ID", "co-sensor-001"),
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		MQTTBrokerURL:        getenvDefault("MQTT_BROKER_URL", ""),
		MQTTTopic:            getenvDefault("MQTT_TOPIC", ""),
		UpstreamOrigin:       getenvDefault("UPSTREAM_ORIGIN", ""),
		PublicOrigin:         getenvDefault("PUBLIC_ORIGIN", ""),
		CacheVersion:         getenvIntDefault("CACHE_VERSION", 1),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:         getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:    getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		AlertWebhookURL:      getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertNotifyTemplate:  getenvDefault("ALERT_NOTIFY_TEMPLATE", ""),
		AlertEscalationAfter: getenvDuration("ALERT_ESCALATION_AFTER", 0),
		AlertNotifyCooldown:  getenvDuration("ALERT_NOTIFY_COOLDOWN", 0),
		AlertNotifyTimeout:   getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
		SyncInterval:         getenvDuration("SYNC_INTERVAL", 30*time.Second),
		SyncMaxAttempts:      getenvIntDefault("SYNC_MAX_ATTEMPTS", 5),
		HeartbeatInterval:    getenvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		SimulationInterval:   getenvDuration("SIMULATION_INTERVAL", 2*time.Second),
		Simulate:             getenvBool("SIMULATE", false),
	}

	if path := os.Getenv("COSAFE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.JWTSecret == "" {
		return cfg, errors.New("config: AUTH_JWT_SECRET is required")
	}
	if cfg.DeviceID == "" {
		return cfg, errors.New("config: DEVICE_ID is required")
	}
	if cfg.CacheVersion <= 0 {
		return cfg, errors.New("config: CACHE_VERSION must be positive")
	}
	if cfg.SyncMaxAttempts <= 0 {
		return cfg, errors.New("config: SYNC_MAX_ATTEMPTS must be positive")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
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

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
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
