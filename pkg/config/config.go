package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/vpcforge/pkg/addressing"
	"github.com/openfroyo/vpcforge/pkg/engine"
	"github.com/openfroyo/vpcforge/pkg/provider"
	"github.com/openfroyo/vpcforge/pkg/records"
	"github.com/openfroyo/vpcforge/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g.
// VPCFORGE_STORE_DRIVER or VPCFORGE_ENGINE_CLAIM_TTL.
const EnvPrefix = "VPCFORGE_"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

// Config is the complete service configuration.
type Config struct {
	Store      StoreConfig              `yaml:"store" envPrefix:"STORE_"`
	Engine     engine.Config            `yaml:"engine" envPrefix:"ENGINE_"`
	Addressing addressing.Config        `yaml:"addressing" envPrefix:"ADDRESSING_"`
	RateLimit  provider.RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	AWS        AWSConfig                `yaml:"aws" envPrefix:"AWS_"`
	Policy     PolicyConfig             `yaml:"policy" envPrefix:"POLICY_"`
	Server     ServerConfig             `yaml:"server" envPrefix:"SERVER_"`
	Telemetry  telemetry.Config         `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver   string                 `yaml:"driver" env:"DRIVER" validate:"required,oneof=sqlite dynamodb"`
	SQLite   records.SQLiteConfig   `yaml:"sqlite" envPrefix:"SQLITE_"`
	DynamoDB records.DynamoDBConfig `yaml:"dynamodb" envPrefix:"DYNAMODB_"`
}

// AWSConfig configures the AWS clients. Empty credentials fall back to the
// SDK's default chain.
type AWSConfig struct {
	Region          string `yaml:"region" env:"REGION"`
	Profile         string `yaml:"profile" env:"PROFILE"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT" validate:"omitempty,url"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY" validate:"required_with=AccessKeyID"`
	SessionToken    string `yaml:"session_token" env:"SESSION_TOKEN"`
}

// PolicyConfig configures admission policies.
type PolicyConfig struct {
	// Paths are .rego/.json files or directories loaded on top of the
	// built-in policies.
	Paths []string `yaml:"paths" env:"PATHS"`

	// Watch reloads Paths when they change (serve only).
	Watch bool `yaml:"watch" env:"WATCH"`

	// AllowedRegions restricts requests to these regions when not empty.
	AllowedRegions []string `yaml:"allowed_regions" env:"ALLOWED_REGIONS"`

	// Disabled names built-in or loaded policies that are never evaluated.
	Disabled []string `yaml:"disabled" env:"DISABLED"`
}

// ServerConfig configures `vpcforge serve`.
type ServerConfig struct {
	Listen          string        `yaml:"listen" env:"LISTEN" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Default returns a configuration that runs locally against SQLite.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverSQLite,
			SQLite: records.SQLiteConfig{Path: "vpcforge.db"},
			DynamoDB: records.DynamoDBConfig{
				Table:            "vpc-records",
				TableWaitTimeout: 2 * time.Minute,
			},
		},
		Engine:     engine.DefaultConfig(),
		Addressing: addressing.DefaultConfig(),
		RateLimit: provider.RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// VPCFORGE_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks struct tags and cross-field rules. Only the selected store
// backend is validated.
func (c *Config) Validate() error {
	unused := "Store.DynamoDB"
	if c.Store.Driver == DriverDynamoDB {
		unused = "Store.SQLite"
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.StructExcept(c, unused); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	if _, err := addressing.New(c.Addressing); err != nil {
		return fmt.Errorf("invalid addressing configuration: %w", err)
	}

	return nil
}
