// Package config loads Quarry's configuration from a YAML file with
// environment-variable overrides for deploy-time secrets.
package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/quarrydev/quarry/internal/errs"
)

// Config is the root configuration document.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Filestore FilestoreConfig `yaml:"filestore"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Server    ServerConfig    `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, mysql
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

type FilestoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
}

type IngestConfig struct {
	BatchSize   int    `yaml:"batch_size"`
	Strictness  string `yaml:"strictness"`  // adaptive, conservative
	Conflict    string `yaml:"conflict"`    // append, replace, fail
	Nullability string `yaml:"nullability"` // all-nullable, inferred
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Driver:   "postgres",
			MaxConns: 10,
			MinConns: 2,
		},
		Ingest: IngestConfig{
			BatchSize:   500,
			Strictness:  "conservative",
			Conflict:    "append",
			Nullability: "all-nullable",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and applies QUARRY_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return nil, errs.Wrap(errs.ErrKindInvalidInput,
				fmt.Sprintf("cannot read config file %s", path), err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errs.Wrap(errs.ErrKindInvalidInput,
					fmt.Sprintf("malformed config file %s", path), err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment, so a
// checked-in config file never needs credentials in it.
func applyEnv(cfg *Config) {
	setIfPresent(&cfg.Log.Level, "QUARRY_LOG_LEVEL")
	setIfPresent(&cfg.Database.Driver, "QUARRY_DB_DRIVER")
	setIfPresent(&cfg.Database.DSN, "QUARRY_DB_DSN")
	setIfPresent(&cfg.Filestore.Endpoint, "QUARRY_STORE_ENDPOINT")
	setIfPresent(&cfg.Filestore.AccessKey, "QUARRY_STORE_ACCESS_KEY")
	setIfPresent(&cfg.Filestore.SecretKey, "QUARRY_STORE_SECRET_KEY")
	setIfPresent(&cfg.Filestore.Bucket, "QUARRY_STORE_BUCKET")
	setIfPresent(&cfg.Server.Addr, "QUARRY_SERVER_ADDR")
}

func setIfPresent(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
