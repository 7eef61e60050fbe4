package receiver

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"fieldsync-service/internal/config"
)

// Config is the receiver's environment-driven configuration. Every key is
// read from a FIELDSYNC_-prefixed environment variable, e.g.
// FIELDSYNC_PORT, FIELDSYNC_API_KEY, FIELDSYNC_DB_HOST.
type Config struct {
	Host            string
	Port            int
	APIKey          string
	Username        string
	PasswordHash    string
	FileStoragePath string
	Database        config.DatabaseConfig
	LogLevel        string
	LogFormat       string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("fieldsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8081)
	v.SetDefault("file.storage.path", "./sync-files")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 3306)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	cfg := &Config{
		Host:            v.GetString("host"),
		Port:            v.GetInt("port"),
		APIKey:          v.GetString("api.key"),
		Username:        v.GetString("username"),
		PasswordHash:    v.GetString("password.hash"),
		FileStoragePath: v.GetString("file.storage.path"),
		Database: config.DatabaseConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetInt("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Database: v.GetString("db.name"),
		},
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
	}

	if cfg.APIKey == "" && (cfg.Username == "" || cfg.PasswordHash == "") {
		return nil, fmt.Errorf("no credential configured: set FIELDSYNC_API_KEY or FIELDSYNC_USERNAME and FIELDSYNC_PASSWORD_HASH")
	}

	return cfg, nil
}
