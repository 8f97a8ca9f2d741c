// Package config loads service configuration from an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/database"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/log"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/notify"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/solver"
)

// Config is the full service configuration.
type Config struct {
	Port     string          `yaml:"port"`
	AdminID  model.UserID    `yaml:"admin_id"`
	Timezone string          `yaml:"timezone"`
	Log      log.Config      `yaml:"log"`
	Database database.Config `yaml:"database"`
	Solver   solver.Config   `yaml:"solver"`
	Draw     DrawConfig      `yaml:"draw"`
	Notify   NotifyConfig    `yaml:"notify"`
}

// DrawConfig bounds a single draw.
type DrawConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig selects the outbound notifier. An empty NATSURL logs
// notifications instead of publishing them.
type NotifyConfig struct {
	NATSURL     string `yaml:"nats_url"`
	Subject     string `yaml:"subject"`
	Concurrency int    `yaml:"concurrency"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Port:     "8080",
		Timezone: "Local",
		Log:      log.Config{Level: log.InfoLevel},
		Database: database.Config{
			Driver:  database.DriverPostgres,
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			DBName:  "giftexchange",
			SSLMode: "disable",
			Path:    "gift-exchange.db",
		},
		Solver: solver.DefaultConfig(),
		Draw:   DrawConfig{Timeout: 30 * time.Second},
		Notify: NotifyConfig{Subject: notify.DefaultSubject, Concurrency: 8},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// ignored.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Timezone = getEnv("GIFTEX_TIMEZONE", c.Timezone)
	c.Log.Level = log.Level(getEnv("LOG_LEVEL", string(c.Log.Level)))

	db := &c.Database
	db.Driver = getEnv("DB_DRIVER", db.Driver)
	db.Host = getEnv("DB_HOST", db.Host)
	db.Port = getEnv("DB_PORT", db.Port)
	db.User = getEnv("DB_USER", db.User)
	db.Password = getEnv("DB_PASSWORD", db.Password)
	db.DBName = getEnv("DB_NAME", db.DBName)
	db.SSLMode = getEnv("DB_SSLMODE", db.SSLMode)
	db.Path = getEnv("DB_PATH", db.Path)

	c.Notify.NATSURL = getEnv("NATS_URL", c.Notify.NATSURL)
	c.Notify.Subject = getEnv("NATS_SUBJECT", c.Notify.Subject)

	if v := os.Getenv("GIFTEX_ADMIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GIFTEX_ADMIN_ID: %w", err)
		}
		c.AdminID = model.UserID(id)
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_JSON: %w", err)
		}
		c.Log.JSONOutput = b
	}
	if v := os.Getenv("GIFTEX_DRAW_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GIFTEX_DRAW_TIMEOUT: %w", err)
		}
		c.Draw.Timeout = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.AdminID <= 0 {
		return errors.New("admin_id must be set to the administrator's user id")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case database.DriverPostgres:
	case database.DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if err := c.Solver.Validate(); err != nil {
		return err
	}
	if c.Draw.Timeout < 0 {
		return errors.New("draw.timeout must not be negative")
	}
	if c.Notify.Concurrency < 1 {
		return errors.New("notify.concurrency must be at least 1")
	}
	return nil
}

// Location resolves the timezone that decides the current event year.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
