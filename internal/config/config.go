package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/adapters/storage/xmlfile"
	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TT3_"

// Database type names accepted in [database].type.
const (
	DatabaseTypeSQLite = "sqlite"
	DatabaseTypeXML    = "xml"
)

type Config struct {
	Database DatabaseConfig `toml:"database" envPrefix:"DATABASE_"`
	XML      XMLConfig      `toml:"xml" envPrefix:"XML_"`
	Security SecurityConfig `toml:"security" envPrefix:"SECURITY_"`
	Logging  LoggingConfig  `toml:"logging" envPrefix:"LOGGING_"`
}

type DatabaseConfig struct {
	Type     string `toml:"type" env:"TYPE"`
	Path     string `toml:"path" env:"PATH"`
	ReadOnly bool   `toml:"read_only" env:"READ_ONLY"`
	Paranoid bool   `toml:"paranoid" env:"PARANOID"`
}

// XMLConfig tunes the lock file kept next to an XML database.
type XMLConfig struct {
	LockRefreshInterval Duration `toml:"lock_refresh_interval" env:"LOCK_REFRESH_INTERVAL"`
	StaleLockAge        Duration `toml:"stale_lock_age" env:"STALE_LOCK_AGE"`
}

// Duration is a time.Duration written as text such as "30s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type SecurityConfig struct {
	BcryptCost           int `toml:"bcrypt_cost" env:"BCRYPT_COST"`
	CredentialsCacheSize int `toml:"credentials_cache_size" env:"CREDENTIALS_CACHE_SIZE"`
}

type LoggingConfig struct {
	Level string `toml:"level" env:"LEVEL"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Type: DatabaseTypeSQLite,
			Path: dbPath,
		},
		XML: XMLConfig{
			LockRefreshInterval: Duration(xmlfile.DefaultLockRefreshInterval),
			StaleLockAge:        Duration(xmlfile.DefaultStaleLockAge),
		},
		Security: SecurityConfig{
			BcryptCost:           bcrypt.DefaultCost,
			CredentialsCacheSize: 256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load layers the TOML file at path and then TT3_* environment variables
// over defaults. A missing or empty file leaves the defaults in place.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		case len(content) > 0:
			if err := toml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode toml: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	cfg.Database.Path = strings.TrimSpace(cfg.Database.Path)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !slices.Contains([]string{DatabaseTypeSQLite, DatabaseTypeXML}, c.Database.Type) {
		return fmt.Errorf("invalid database.type: %q", c.Database.Type)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}
	if c.XML.LockRefreshInterval <= 0 {
		return errors.New("xml.lock_refresh_interval must be > 0")
	}
	if c.XML.StaleLockAge <= c.XML.LockRefreshInterval {
		return errors.New("xml.stale_lock_age must exceed xml.lock_refresh_interval")
	}
	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("security.bcrypt_cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Security.CredentialsCacheSize < 1 {
		return errors.New("security.credentials_cache_size must be >= 1")
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

// LogLevel returns the parsed logging level.
func (c Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Logging.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
