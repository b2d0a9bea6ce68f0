package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/samirrijal/fleetmap/internal/core/codec"
	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	OTLPAddr    string `mapstructure:"otlp_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// BridgeConfig holds the defaults applied to every map session.
type BridgeConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	Codec            string        `mapstructure:"codec"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	MaxPending       int           `mapstructure:"max_pending"`
	DefaultStyle     string        `mapstructure:"default_style"`
	Traffic          bool          `mapstructure:"traffic"`
	SnapshotTTL      time.Duration `mapstructure:"snapshot_ttl"`
	CenterLatitude   float64       `mapstructure:"center_latitude"`
	CenterLongitude  float64       `mapstructure:"center_longitude"`
	LatitudeSpan     float64       `mapstructure:"latitude_span"`
	LongitudeSpan    float64       `mapstructure:"longitude_span"`
}

// DefaultRegion is the camera used when a session does not supply one.
func (b BridgeConfig) DefaultRegion() domain.Region {
	return domain.Region{
		Center:        domain.Coordinate{Latitude: b.CenterLatitude, Longitude: b.CenterLongitude},
		LatitudeSpan:  b.LatitudeSpan,
		LongitudeSpan: b.LongitudeSpan,
	}
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fleetmap")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "fleetmap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("bridge.api_key", "")
	v.SetDefault("bridge.codec", string(codec.FormatJSON))
	v.SetDefault("bridge.handshake_timeout", 30*time.Second)
	v.SetDefault("bridge.max_pending", 256)
	v.SetDefault("bridge.default_style", string(domain.StyleNormal))
	v.SetDefault("bridge.traffic", false)
	v.SetDefault("bridge.snapshot_ttl", 24*time.Hour)
	v.SetDefault("bridge.center_latitude", 19.4326)
	v.SetDefault("bridge.center_longitude", -99.1332)
	v.SetDefault("bridge.latitude_span", 0.05)
	v.SetDefault("bridge.longitude_span", 0.05)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: FLEETMAP_BRIDGE_API_KEY → bridge.api_key
	v.SetEnvPrefix("FLEETMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if _, err := codec.ParseFormat(c.Bridge.Codec); err != nil {
		errs = append(errs, "bridge.codec: "+err.Error())
	}
	if c.Bridge.HandshakeTimeout < 0 {
		errs = append(errs, "bridge.handshake_timeout must not be negative")
	}
	if c.Bridge.MaxPending < 0 {
		errs = append(errs, "bridge.max_pending must not be negative")
	}
	if err := c.Bridge.DefaultRegion().Validate(); err != nil {
		errs = append(errs, "bridge default region: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
