package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// UnitConfig holds the command/telemetry channel settings.
type UnitConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// OTelConfig holds OpenTelemetry log export settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./patrollogs")

	viper.SetDefault("unit.url", "ws://localhost:8765/channel")
	viper.SetDefault("unit.secret", "")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("store.type", "sqlite")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "patrol")
	viper.SetDefault("db.sqlitePath", "./patrol.db")

	viper.SetDefault("detections.flushInterval", "5s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "patrol-metrics")
	viper.SetDefault("influx.backupPath", "./influx_backup.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "patrold")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName("patrold.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetUnitConfig returns the unit channel configuration.
func GetUnitConfig() UnitConfig {
	return UnitConfig{
		URL:    viper.GetString("unit.url"),
		Secret: viper.GetString("unit.secret"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
