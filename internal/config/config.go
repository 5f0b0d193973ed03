// Package config handles configuration loading for the pipes and commands.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration.
type Config struct {
	Postgres  PostgresConfig  `mapstructure:"postgres"  yaml:"postgres"`
	Mongo     MongoConfig     `mapstructure:"mongo"     yaml:"mongo"`
	MySQL     MySQLConfig     `mapstructure:"mysql"     yaml:"mysql"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" yaml:"heartbeat"`
	Sync      SyncConfig      `mapstructure:"sync"      yaml:"sync"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

type PostgresConfig struct {
	Host           string        `mapstructure:"host"            yaml:"host"`
	Port           int           `mapstructure:"port"            yaml:"port"`
	DB             string        `mapstructure:"db"              yaml:"db"`
	User           string        `mapstructure:"user"            yaml:"user"`
	Password       string        `mapstructure:"password"        yaml:"password"`
	SSLMode        string        `mapstructure:"sslmode"         yaml:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	MaxConns       int32         `mapstructure:"max_conns"       yaml:"max_conns"`
}

// DSN returns a postgres:// URL for pgx.
func (p PostgresConfig) DSN() string {
	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	if p.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(p.ConnectTimeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.DB,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// MongoConfig is optional; an empty host disables MongoDB.
type MongoConfig struct {
	Host                   string        `mapstructure:"host"                     yaml:"host"`
	Port                   int           `mapstructure:"port"                     yaml:"port"`
	DB                     string        `mapstructure:"db"                       yaml:"db"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout" yaml:"server_selection_timeout"`
}

// URI returns a mongodb:// URI for the driver.
func (m MongoConfig) URI() string {
	return "mongodb://" + net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// MySQLConfig is optional; an empty host disables MySQL. RowLimit and
// ChunkSize bound table reads, zero means no limit and a single query.
type MySQLConfig struct {
	Host           string        `mapstructure:"host"            yaml:"host"`
	Port           int           `mapstructure:"port"            yaml:"port"`
	DB             string        `mapstructure:"db"              yaml:"db"`
	User           string        `mapstructure:"user"            yaml:"user"`
	Password       string        `mapstructure:"password"        yaml:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	RowLimit       int           `mapstructure:"row_limit"       yaml:"row_limit"`
	ChunkSize      int           `mapstructure:"chunk_size"      yaml:"chunk_size"`
}

type HeartbeatConfig struct {
	Table    string        `mapstructure:"table"    yaml:"table"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Timezone string        `mapstructure:"timezone" yaml:"timezone"`
}

// SyncConfig describes one table-to-table coordinate conversion. The source
// table is read from Source, the target is always written to Postgres.
type SyncConfig struct {
	Source           string        `mapstructure:"source"            yaml:"source"`
	SourceTable      string        `mapstructure:"source_table"      yaml:"source_table"`
	TargetTable      string        `mapstructure:"target_table"      yaml:"target_table"`
	Direction        string        `mapstructure:"direction"         yaml:"direction"`
	XColumn          string        `mapstructure:"x_column"          yaml:"x_column"`
	YColumn          string        `mapstructure:"y_column"          yaml:"y_column"`
	LonColumn        string        `mapstructure:"lon_column"        yaml:"lon_column"`
	LatColumn        string        `mapstructure:"lat_column"        yaml:"lat_column"`
	GeohashColumn    string        `mapstructure:"geohash_column"    yaml:"geohash_column"`
	GeohashPrecision uint          `mapstructure:"geohash_precision" yaml:"geohash_precision"`
	KeyColumn        string        `mapstructure:"key_column"        yaml:"key_column"`
	Workers          int           `mapstructure:"workers"           yaml:"workers"`
	Interval         time.Duration `mapstructure:"interval"          yaml:"interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Sources supported by SyncConfig.Source.
const (
	SourcePostgres = "postgres"
	SourceMySQL    = "mysql"
	SourceMongo    = "mongo"
)

// Directions supported by SyncConfig.Direction.
const (
	EOVToWGS = "eov2wgs"
	WGSToEOV = "wgs2eov"
)

// Load reads configuration from path (JSON or YAML, by extension) and
// EOVPIPES_* environment variables. An empty path looks for an optional
// config.{json,yaml} in . and ./configs.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.db", "postgres")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.connect_timeout", 10*time.Second)
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("mongo.host", "")
	v.SetDefault("mongo.port", 27017)
	v.SetDefault("mongo.db", "phoenixpharma")
	v.SetDefault("mongo.server_selection_timeout", 10*time.Second)
	v.SetDefault("mysql.host", "")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.db", "")
	v.SetDefault("mysql.user", "")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.connect_timeout", 10*time.Second)
	v.SetDefault("mysql.row_limit", 0)
	v.SetDefault("mysql.chunk_size", 0)
	v.SetDefault("heartbeat.table", "heartbeat")
	v.SetDefault("heartbeat.interval", 60*time.Second)
	v.SetDefault("heartbeat.timezone", "Europe/Budapest")
	v.SetDefault("sync.source", SourcePostgres)
	v.SetDefault("sync.source_table", "")
	v.SetDefault("sync.target_table", "")
	v.SetDefault("sync.direction", EOVToWGS)
	v.SetDefault("sync.x_column", "eov_x")
	v.SetDefault("sync.y_column", "eov_y")
	v.SetDefault("sync.lon_column", "longitude")
	v.SetDefault("sync.lat_column", "latitude")
	v.SetDefault("sync.geohash_column", "")
	v.SetDefault("sync.geohash_precision", 9)
	v.SetDefault("sync.key_column", "")
	v.SetDefault("sync.workers", 1)
	v.SetDefault("sync.interval", time.Duration(0))
	v.SetDefault("metrics.addr", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		_ = v.ReadInConfig() // OK if missing
	}

	// EOVPIPES_POSTGRES_HOST → postgres.host
	v.SetEnvPrefix("EOVPIPES")
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
// Sync fields are only checked once a source table is set.
func (c *Config) Validate() error {
	var errs []string

	if c.Postgres.Host == "" {
		errs = append(errs, "postgres.host is required")
	}
	if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
		errs = append(errs, fmt.Sprintf("postgres.port must be 1-65535, got %d", c.Postgres.Port))
	}
	if c.Postgres.DB == "" {
		errs = append(errs, "postgres.db is required")
	}
	if c.Postgres.User == "" {
		errs = append(errs, "postgres.user is required")
	}
	if c.Postgres.MaxConns <= 0 {
		errs = append(errs, "postgres.max_conns must be positive")
	}
	if c.Mongo.Host != "" {
		if c.Mongo.Port <= 0 || c.Mongo.Port > 65535 {
			errs = append(errs, fmt.Sprintf("mongo.port must be 1-65535, got %d", c.Mongo.Port))
		}
		if c.Mongo.DB == "" {
			errs = append(errs, "mongo.db is required with mongo.host")
		}
	}
	if c.MySQL.Host != "" {
		if c.MySQL.Port <= 0 || c.MySQL.Port > 65535 {
			errs = append(errs, fmt.Sprintf("mysql.port must be 1-65535, got %d", c.MySQL.Port))
		}
		if c.MySQL.DB == "" {
			errs = append(errs, "mysql.db is required with mysql.host")
		}
		if c.MySQL.User == "" {
			errs = append(errs, "mysql.user is required with mysql.host")
		}
	}
	if c.MySQL.RowLimit < 0 || c.MySQL.ChunkSize < 0 {
		errs = append(errs, "mysql.row_limit and mysql.chunk_size must not be negative")
	}
	if c.Heartbeat.Table == "" {
		errs = append(errs, "heartbeat.table is required")
	}
	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, "heartbeat.interval must be positive")
	}
	if _, err := time.LoadLocation(c.Heartbeat.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("heartbeat.timezone: %v", err))
	}

	if c.Sync.SourceTable != "" {
		if c.Sync.TargetTable == "" {
			errs = append(errs, "sync.target_table is required with sync.source_table")
		}
		switch c.Sync.Source {
		case SourcePostgres:
		case SourceMySQL:
			if c.MySQL.Host == "" {
				errs = append(errs, "mysql.host is required with sync.source mysql")
			}
		case SourceMongo:
			if c.Mongo.Host == "" {
				errs = append(errs, "mongo.host is required with sync.source mongo")
			}
		default:
			errs = append(errs, fmt.Sprintf("sync.source must be %s, %s or %s, got %q", SourcePostgres, SourceMySQL, SourceMongo, c.Sync.Source))
		}
		if c.Sync.Direction != EOVToWGS && c.Sync.Direction != WGSToEOV {
			errs = append(errs, fmt.Sprintf("sync.direction must be %s or %s, got %q", EOVToWGS, WGSToEOV, c.Sync.Direction))
		}
		for name, col := range map[string]string{
			"sync.x_column":   c.Sync.XColumn,
			"sync.y_column":   c.Sync.YColumn,
			"sync.lon_column": c.Sync.LonColumn,
			"sync.lat_column": c.Sync.LatColumn,
		} {
			if col == "" {
				errs = append(errs, name+" is required")
			}
		}
		if c.Sync.Workers <= 0 {
			errs = append(errs, "sync.workers must be positive")
		}
		if c.Sync.GeohashColumn != "" && (c.Sync.GeohashPrecision < 1 || c.Sync.GeohashPrecision > 12) {
			errs = append(errs, fmt.Sprintf("sync.geohash_precision must be 1-12, got %d", c.Sync.GeohashPrecision))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WriteYAML dumps the effective configuration with the password masked.
func (c Config) WriteYAML(w io.Writer) error {
	if c.Postgres.Password != "" {
		c.Postgres.Password = "***"
	}
	if c.MySQL.Password != "" {
		c.MySQL.Password = "***"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Read loads a JSON document into a generic map, keys untouched.
func Read(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out map[string]any
	if err := json.NewDecoder(f).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return out, nil
}
