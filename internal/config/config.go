package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "warhead.cfg.json"

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
	DB     DBConfig     `json:"db" mapstructure:"db"`
}

// SQLiteConfig holds SQLite backend settings. An empty Path keeps the
// database in memory.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// GameConfig holds player-facing tunables.
type GameConfig struct {
	NearbyRadiusMeters float64 `json:"nearbyRadiusMeters" mapstructure:"nearbyRadiusMeters"`
	StartingShield     int     `json:"startingShield" mapstructure:"startingShield"`
	// IndexRebuildInterval bounds how long proximity index writes wait
	// before being folded into its R-tree.
	IndexRebuildInterval time.Duration `json:"indexRebuildInterval" mapstructure:"indexRebuildInterval"`
}

// CombatConfig holds launch resolution and recovery settings.
type CombatConfig struct {
	MaxFlightDuration time.Duration `json:"maxFlightDuration" mapstructure:"maxFlightDuration"`
	RecoveryPolicy    string        `json:"recoveryPolicy" mapstructure:"recoveryPolicy"`
	RecoveryInterval  time.Duration `json:"recoveryInterval" mapstructure:"recoveryInterval"`
	DefaultDamage     int           `json:"defaultDamage" mapstructure:"defaultDamage"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"bufferSize" mapstructure:"bufferSize"`
}

// InfluxConfig holds telemetry sink settings.
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// URL returns the InfluxDB server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// HTTPConfig holds the API server settings. Zero RateLimitRequests disables
// rate limiting; an empty AllowedOrigins allows every origin.
type HTTPConfig struct {
	ListenAddr        string        `json:"listenAddr" mapstructure:"listenAddr"`
	RateLimitRequests int           `json:"rateLimitRequests" mapstructure:"rateLimitRequests"`
	RateLimitWindow   time.Duration `json:"rateLimitWindow" mapstructure:"rateLimitWindow"`
	AllowedOrigins    []string      `json:"allowedOrigins" mapstructure:"allowedOrigins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level          string
	Dir            string
	GraylogEnabled bool
	GraylogAddress string
}

// OTelConfig holds trace export settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// OwnershipConfig holds ownership ledger sync settings. A zero interval
// disables the reconciler.
type OwnershipConfig struct {
	SyncInterval time.Duration `json:"syncInterval" mapstructure:"syncInterval"`
	// LedgerFile is a JSON object of token ID to owner ID.
	LedgerFile string `json:"ledgerFile" mapstructure:"ledgerFile"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "warhead")

	viper.SetDefault("game.nearbyRadiusMeters", 5000)
	viper.SetDefault("game.startingShield", 100)
	viper.SetDefault("game.indexRebuildInterval", "1s")

	viper.SetDefault("combat.maxFlightDuration", "30s")
	viper.SetDefault("combat.recoveryPolicy", "destroy")
	viper.SetDefault("combat.recoveryInterval", "10s")
	viper.SetDefault("combat.defaultDamage", 25)

	viper.SetDefault("events.bufferSize", 64)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "warhead")
	viper.SetDefault("influx.bucket", "combat_events")
	viper.SetDefault("influx.backupPath", "./logs/influx_backup.lp.gz")

	viper.SetDefault("http.listenAddr", ":3000")
	viper.SetDefault("http.rateLimit.requests", 10)
	viper.SetDefault("http.rateLimit.window", "15s")
	viper.SetDefault("http.allowedOrigins", []string{})

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "warhead")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("ownership.syncInterval", "0s")
	viper.SetDefault("ownership.ledgerFile", "")

	viper.SetEnvPrefix("WARHEAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// LoadOrDefault behaves like Load but runs on defaults and environment
// when no config file exists. It reports whether a file was read.
func LoadOrDefault(configDir string) (bool, error) {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err == nil {
		return true, nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("error reading config file: %v", err)
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

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStorageConfig returns the store selection and backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

// GetGameConfig returns game tunables.
func GetGameConfig() GameConfig {
	return GameConfig{
		NearbyRadiusMeters: viper.GetFloat64("game.nearbyRadiusMeters"),
		StartingShield:     viper.GetInt("game.startingShield"),

		IndexRebuildInterval: viper.GetDuration("game.indexRebuildInterval"),
	}
}

// GetCombatConfig returns combat settings.
func GetCombatConfig() CombatConfig {
	return CombatConfig{
		MaxFlightDuration: viper.GetDuration("combat.maxFlightDuration"),
		RecoveryPolicy:    viper.GetString("combat.recoveryPolicy"),
		RecoveryInterval:  viper.GetDuration("combat.recoveryInterval"),
		DefaultDamage:     viper.GetInt("combat.defaultDamage"),
	}
}

// GetEventsConfig returns event bus settings.
func GetEventsConfig() EventsConfig {
	return EventsConfig{BufferSize: viper.GetInt("events.bufferSize")}
}

// GetInfluxConfig returns telemetry sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetHTTPConfig returns API server settings. Allowed origins may be given as
// a JSON array or a comma separated string.
func GetHTTPConfig() HTTPConfig {
	var origins []string
	for _, entry := range viper.GetStringSlice("http.allowedOrigins") {
		for _, o := range strings.Split(entry, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}
	return HTTPConfig{
		ListenAddr:        viper.GetString("http.listenAddr"),
		RateLimitRequests: viper.GetInt("http.rateLimit.requests"),
		RateLimitWindow:   viper.GetDuration("http.rateLimit.window"),
		AllowedOrigins:    origins,
	}
}

// GetLoggingConfig returns log output settings.
func GetLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:          viper.GetString("logLevel"),
		Dir:            viper.GetString("logsDir"),
		GraylogEnabled: viper.GetBool("graylog.enabled"),
		GraylogAddress: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns trace export settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetOwnershipConfig returns ownership sync settings.
func GetOwnershipConfig() OwnershipConfig {
	return OwnershipConfig{
		SyncInterval: viper.GetDuration("ownership.syncInterval"),
		LedgerFile:   viper.GetString("ownership.ledgerFile"),
	}
}
