package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	StateStorage StateStorageConfig `mapstructure:"state_storage"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Changefeed   ChangefeedConfig   `mapstructure:"changefeed"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

// DatabaseConfig describes one MySQL connection. Database is the business
// database holding the synced entities; StateStorage holds the sync engine's
// own tables (configurations, history, conflicts, outbox).
type DatabaseConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	User                string `mapstructure:"user"`
	Password            string `mapstructure:"password"`
	Database            string `mapstructure:"database"`
	ReplicationUser     string `mapstructure:"replication_user"`
	ReplicationPassword string `mapstructure:"replication_password"`
}

// StateStorageConfig selects where the sync engine keeps its own state.
// Type "mysql" (default) uses the embedded connection settings; "memory"
// keeps everything in process, for evaluation setups only.
type StateStorageConfig struct {
	Type       string         `mapstructure:"type"`
	Connection DatabaseConfig `mapstructure:",squash"`
}

type SyncConfig struct {
	Tables         []TableConfig `mapstructure:"tables"`
	RequestTimeout string        `mapstructure:"request_timeout"`
	FilesRoot      string        `mapstructure:"files_root"`
}

func (s SyncConfig) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// TableConfig describes one synced entity table. Order matters: tables are
// listed parents first so exported statements respect referential integrity.
type TableConfig struct {
	Name            string `mapstructure:"name"`
	PrimaryKey      string `mapstructure:"primary_key"`
	TimestampColumn string `mapstructure:"timestamp_column"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ChangefeedConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	ServerID uint32 `mapstructure:"server_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("state_storage.type", "mysql")
	v.SetDefault("sync.request_timeout", "30s")
	v.SetDefault("scheduler.interval", "@every 15m")
	v.SetDefault("changefeed.server_id", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
