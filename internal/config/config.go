package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Source      SourceConfig      `mapstructure:"source"`
	Destination DestinationConfig `mapstructure:"destination"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	// File receives a JSON copy of every log line. Empty turns the file off.
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	MaxBackups  int    `mapstructure:"max_backups"`
	RotateDaily bool   `mapstructure:"rotate_daily"`
}

const (
	SourceElasticsearch = "elasticsearch"
	SourceMongoDB       = "mongodb"
)

type SourceConfig struct {
	Kind           string        `mapstructure:"kind"`
	Addresses      []string      `mapstructure:"addresses"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// SchemaSample is how many documents the MongoDB reader inspects to infer a schema.
	SchemaSample int `mapstructure:"schema_sample"`
}

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DestinationConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	// Path is the database file for the sqlite driver.
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

const (
	CheckpointStoreFile   = "file"
	CheckpointStoreSQLite = "sqlite"
)

type SyncConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	// CheckpointStore selects how CheckpointFile is written: a JSON document or a SQLite database.
	CheckpointStore string `mapstructure:"checkpoint_store"`
	CheckpointFile  string `mapstructure:"checkpoint_file"`
	// Timezone is where normalized timestamps are expressed. "Local" is the process zone.
	Timezone string `mapstructure:"timezone"`
}

type ScheduleConfig struct {
	IndexPrefix string `mapstructure:"index_prefix"`
	SyncTime    string `mapstructure:"sync_time"`
	Timezone    string `mapstructure:"timezone"`
}

// Load reads path (YAML) over the defaults, then ESSYNC_* environment
// variables over both. With envOnly or an empty path no file is read.
func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ESSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", true)
	v.SetDefault("log.file", "logs/essync.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.rotate_daily", true)

	v.SetDefault("source.kind", SourceElasticsearch)
	v.SetDefault("source.addresses", []string{"http://localhost:9200"})
	v.SetDefault("source.username", "")
	v.SetDefault("source.password", "")
	v.SetDefault("source.uri", "mongodb://localhost:27017")
	v.SetDefault("source.database", "")
	v.SetDefault("source.request_timeout", "30s")
	v.SetDefault("source.schema_sample", 100)

	v.SetDefault("destination.driver", DriverMySQL)
	v.SetDefault("destination.host", "localhost")
	v.SetDefault("destination.port", 0)
	v.SetDefault("destination.username", "root")
	v.SetDefault("destination.password", "")
	v.SetDefault("destination.database", "es_sync")
	v.SetDefault("destination.ssl_mode", "")
	v.SetDefault("destination.path", "essync.db")
	v.SetDefault("destination.max_open_conns", 5)
	v.SetDefault("destination.max_idle_conns", 2)
	v.SetDefault("destination.conn_max_lifetime", "10m")

	v.SetDefault("sync.batch_size", 1000)
	v.SetDefault("sync.session_timeout", "5m")
	v.SetDefault("sync.checkpoint_store", CheckpointStoreFile)
	v.SetDefault("sync.checkpoint_file", "checkpoint.json")
	v.SetDefault("sync.timezone", "Local")

	v.SetDefault("schedule.index_prefix", "")
	v.SetDefault("schedule.sync_time", "00:30")
	v.SetDefault("schedule.timezone", "Local")

	if !envOnly && path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Log.MaxSizeMB < 0 || c.Log.MaxAgeDays < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log: max_size_mb, max_age_days and max_backups must not be negative")
	}
	switch c.Source.Kind {
	case SourceElasticsearch, SourceMongoDB:
	default:
		return fmt.Errorf("source.kind: unsupported %q", c.Source.Kind)
	}
	switch c.Destination.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("destination.driver: unsupported %q", c.Destination.Driver)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.SessionTimeout <= 0 {
		return fmt.Errorf("sync.session_timeout must be positive, got %s", c.Sync.SessionTimeout)
	}
	switch c.Sync.CheckpointStore {
	case CheckpointStoreFile, CheckpointStoreSQLite:
	default:
		return fmt.Errorf("sync.checkpoint_store: unsupported %q", c.Sync.CheckpointStore)
	}
	if c.Sync.CheckpointFile == "" {
		return fmt.Errorf("sync.checkpoint_file is required")
	}
	if _, err := LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("sync.timezone: %w", err)
	}
	if _, err := LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if _, _, err := ParseClock(c.Schedule.SyncTime); err != nil {
		return fmt.Errorf("schedule.sync_time: %w", err)
	}
	return nil
}

// LoadLocation resolves a zone name; "" and "Local" mean the process zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
