package config

import (
	"os"
	"strconv"
)

// Config holds the session service configuration.
type Config struct {
	// Session recording
	Session struct {
		// Tick interval in milliseconds (default 5000)
		TickIntervalMs int
		// IANA timezone recorded on the persisted session
		Timezone string
		// Optional directory for the post-session summary workbook ("" disables export)
		ExportDir string
		// Equipment catalog JSON file
		EquipmentFile string
		// Optional participant roster JSON file ("" starts with an empty roster)
		RosterFile string
	}

	// MQTT ingestion
	MQTT struct {
		Broker         string
		ClientID       string
		Username       string
		Password       string
		FitnessTopic   string // e.g. "fitness/#"
		VibrationTopic string // e.g. "vibration/#"
	}

	// Redis (event journal streams)
	Redis struct {
		Addr     string
		Password string
		DB       int
		// Stream the audit journal publishes to
		JournalStream string
	}

	// Postgres session archive ("" host disables archiving)
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
	}

	// Session save endpoint
	Persistence struct {
		EndpointURL string
		TimeoutSec  int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Session.TickIntervalMs = getEnvPositiveInt("TICK_INTERVAL_MS", 5000)
	cfg.Session.Timezone = getEnv("SESSION_TIMEZONE", "America/Denver")
	cfg.Session.ExportDir = getEnv("SESSION_EXPORT_DIR", "")
	cfg.Session.EquipmentFile = getEnv("EQUIPMENT_FILE", "equipment.json")
	cfg.Session.RosterFile = getEnv("ROSTER_FILE", "")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "fitgrid-session")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.FitnessTopic = getEnv("MQTT_FITNESS_TOPIC", "fitness/#")
	cfg.MQTT.VibrationTopic = getEnv("MQTT_VIBRATION_TOPIC", "vibration/#")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.JournalStream = getEnv("JOURNAL_STREAM", "session:journal")

	cfg.Database.Host = getEnv("DB_HOST", "")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "fitgrid")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Persistence.EndpointURL = getEnv("SESSION_SAVE_URL", "http://localhost:8080/api/sessions")
	cfg.Persistence.TimeoutSec = getEnvPositiveInt("SESSION_SAVE_TIMEOUT_SEC", 30)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			return v
		}
	}
	return defaultValue
}

// getEnvPositiveInt is getEnvInt for values that drive tickers and timeouts,
// where zero is as unusable as a negative.
func getEnvPositiveInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			return v
		}
	}
	return defaultValue
}
