package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Minio      MinioConfig      `yaml:"minio"`
	S3         S3Config         `yaml:"s3"`
	Database   DatabaseConfig   `yaml:"database"`
	Generation GenerationConfig `yaml:"generation"`
	Retry      RetryConfig      `yaml:"retry"`
	Links      LinksConfig      `yaml:"links"`
	Notify     NotifyConfig     `yaml:"notify"`
	Auth       AuthConfig       `yaml:"auth"`
	Store      StoreConfig      `yaml:"store"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MinioConfig points at the immutable (content-addressed) tier.
type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// S3Config points at the secondary object-storage tier.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	Migrate      bool   `yaml:"migrate"`
}

type GenerationConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	BatchDelay     time.Duration `yaml:"batch_delay"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Locale         string        `yaml:"locale"`
	Currency       string        `yaml:"currency"`
	OutputFormat   string        `yaml:"output_format"` // docx, pdf
	ConverterURL   string        `yaml:"converter_url"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type LinksConfig struct {
	ContractTTL time.Duration `yaml:"contract_ttl"`
	GenericTTL  time.Duration `yaml:"generic_ttl"`
}

type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIURL   string `yaml:"api_url"`
	APIToken string `yaml:"api_token"`
	From     string `yaml:"from"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type StoreConfig struct {
	MaxJobs int `yaml:"max_jobs"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv lets secrets stay out of the YAML file.
func (c *Config) applyEnv() {
	overrides := []struct {
		name   string
		target *string
	}{
		{"CONTRACTS_DATABASE_DSN", &c.Database.DSN},
		{"CONTRACTS_MINIO_SECRET_KEY", &c.Minio.SecretKey},
		{"CONTRACTS_S3_SECRET_KEY", &c.S3.SecretKey},
		{"CONTRACTS_JWT_SECRET", &c.Auth.JWTSecret},
		{"CONTRACTS_NOTIFY_TOKEN", &c.Notify.APIToken},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.name); v != "" {
			*o.target = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Generation.BatchSize <= 0 {
		c.Generation.BatchSize = 10
	}
	if c.Generation.BatchDelay == 0 {
		c.Generation.BatchDelay = 100 * time.Millisecond
	}
	if c.Generation.MaxConcurrency <= 0 {
		c.Generation.MaxConcurrency = c.Generation.BatchSize
	}
	if c.Generation.Locale == "" {
		c.Generation.Locale = "en-US"
	}
	if c.Generation.Currency == "" {
		c.Generation.Currency = "USD"
	}
	if c.Generation.OutputFormat == "" {
		c.Generation.OutputFormat = "docx"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 200 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 2 * time.Second
	}
	if c.Links.ContractTTL == 0 {
		c.Links.ContractTTL = time.Duration(c.Minio.ExpireDays) * 24 * time.Hour
	}
	if c.Links.GenericTTL == 0 {
		c.Links.GenericTTL = time.Hour
	}
	if c.Store.MaxJobs == 0 {
		c.Store.MaxJobs = 100
	}
}
