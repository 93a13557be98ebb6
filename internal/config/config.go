// Package config loads hoksip settings from defaults, a YAML file, the environment and flags,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"github.com/zalando/go-keyring"
)

const (
	EnvPrefix      = "HOKSIP_"
	KeyringService = "hoksip"
)

type Config struct {
	Env      string         `koanf:"env" validate:"oneof=development production"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Telegram TelegramConfig `koanf:"telegram"`
	HTTP     HTTPConfig     `koanf:"http"`
	Session  SessionConfig  `koanf:"session"`
	Reminder ReminderConfig `koanf:"reminder"`
	ReposDir string         `koanf:"repos_dir" validate:"required"`
}

type LogConfig struct {
	Level      string `koanf:"level" validate:"oneof=debug info warn error"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

type TelegramConfig struct {
	Token       string `koanf:"token"`
	Debug       bool   `koanf:"debug"`
	KeyringUser string `koanf:"keyring_user"`
}

type HTTPConfig struct {
	// Addr is the listen address of the JSON API; empty disables it.
	Addr string `koanf:"addr"`

	// ImportRoot is the only directory the API may import local decks from.
	// Empty limits API imports to git URLs.
	ImportRoot string `koanf:"import_root"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
}

type ReminderConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Hours    []int  `koanf:"hours" validate:"dive,gte=0,lte=23"`
	Timezone string `koanf:"timezone" validate:"required"`
}

// Location resolves the reminder timezone, which is also the calendar used for "today".
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Reminder.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Reminder.Timezone, err)
	}
	return loc, nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"env":                    "production",
		"log.level":              "info",
		"log.file":               "",
		"log.max_size_mb":        10,
		"log.max_backups":        3,
		"log.max_age_days":       28,
		"database.driver":        "sqlite",
		"database.dsn":           "hoksip.db",
		"telegram.debug":         false,
		"http.addr":              "127.0.0.1:8080",
		"http.import_root":       "",
		"session.idle_timeout":   "30m",
		"session.sweep_interval": "1m",
		"reminder.enabled":       true,
		"reminder.hours":         []int{9, 21},
		"reminder.timezone":      "Asia/Taipei",
		"repos_dir":              "repos",
	}
}

// Flags registers the flags shared by every command. Flag names are config keys.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "hoksip.yaml", "path to the YAML config file")
	fs.String("env", "production", "development or production")
	fs.String("log.level", "info", "log level")
	fs.String("database.driver", "sqlite", "sqlite or postgres")
	fs.String("database.dsn", "hoksip.db", "database file or connection string")
	return fs
}

// Load builds the configuration. fs must already be parsed.
func Load(fs *pflag.FlagSet) (Config, error) {
	// A missing .env is fine; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	path, _ := fs.GetString("config")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Telegram.Token == "" && cfg.Telegram.KeyringUser != "" {
		token, err := keyring.Get(KeyringService, cfg.Telegram.KeyringUser)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return Config{}, fmt.Errorf("failed to read bot token from keyring: %w", err)
		}
		cfg.Telegram.Token = token
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps HOKSIP_LOG__MAX_SIZE_MB to log.max_size_mb.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a loaded configuration.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q check", strings.ToLower(fe.Namespace()), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

// StoreToken saves the bot token in the OS keyring for the given user.
func StoreToken(user, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if err := keyring.Set(KeyringService, user, token); err != nil {
		return fmt.Errorf("failed to store bot token in keyring: %w", err)
	}
	return nil
}
