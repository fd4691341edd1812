package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Chapa       ChapaConfig       `yaml:"chapa"`
	AI          AIConfig          `yaml:"ai"`
	Renderer    RendererConfig    `yaml:"renderer"`
	Auth        AuthConfig        `yaml:"auth"`
	Cron        CronConfig        `yaml:"cron"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Pricing     PricingConfig     `yaml:"pricing"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	PublicURL      string        `yaml:"public_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      int           `yaml:"rate_limit"` // requests per minute per client IP
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig points at the S3-compatible bucket holding artifacts and uploads.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"` // empty selects the in-memory store
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty selects the in-process claimer
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // empty disables event publishing
	Topic   string   `yaml:"topic"`
}

type ChapaConfig struct {
	BaseURL       string `yaml:"base_url"`
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	CallbackURL   string `yaml:"callback_url"`
	ReturnURL     string `yaml:"return_url"`
}

type AIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type RendererConfig struct {
	Mode         string        `yaml:"mode"` // chromedp or gotenberg
	GotenbergURL string        `yaml:"gotenberg_url"`
	ImageTimeout time.Duration `yaml:"image_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"` // lifetime of tokens minted by the token command
}

type CronConfig struct {
	Secret string `yaml:"secret"`
}

type FulfillmentConfig struct {
	AccessWindow      time.Duration `yaml:"access_window"`
	SignedURLTTL      time.Duration `yaml:"signed_url_ttl"`
	ClaimTTL          time.Duration `yaml:"claim_ttl"`
	ReaperBatch       int           `yaml:"reaper_batch"`
	EnrichmentFailure string        `yaml:"enrichment_failure"` // continue or fail
}

type PricingConfig struct {
	Currency  string            `yaml:"currency"`
	Default   string            `yaml:"default"`
	Kinds     map[string]string `yaml:"kinds"`     // service kind -> amount
	Templates map[string]string `yaml:"templates"` // full service type -> amount
}

const (
	EnrichmentContinue = "continue"
	EnrichmentFail     = "fail"
)

// Load reads the YAML file at path. A .env file next to the process, if any,
// is loaded first and ${VAR} references in the YAML are expanded from the
// environment so secrets stay out of the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 60 * time.Second
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "documents"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 8
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "orders.events"
	}
	if c.Chapa.BaseURL == "" {
		c.Chapa.BaseURL = "https://api.chapa.co/v1"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.Renderer.Mode == "" {
		c.Renderer.Mode = "chromedp"
	}
	if c.Renderer.ImageTimeout == 0 {
		c.Renderer.ImageTimeout = 10 * time.Second
	}
	if c.Fulfillment.AccessWindow == 0 {
		c.Fulfillment.AccessWindow = 6 * time.Hour
	}
	if c.Fulfillment.SignedURLTTL == 0 {
		c.Fulfillment.SignedURLTTL = time.Hour
	}
	if c.Fulfillment.ClaimTTL == 0 {
		c.Fulfillment.ClaimTTL = 5 * time.Minute
	}
	if c.Fulfillment.ReaperBatch == 0 {
		c.Fulfillment.ReaperBatch = 50
	}
	if c.Fulfillment.EnrichmentFailure == "" {
		c.Fulfillment.EnrichmentFailure = EnrichmentContinue
	}
	if c.Pricing.Currency == "" {
		c.Pricing.Currency = "ETB"
	}
	if c.Pricing.Default == "" {
		c.Pricing.Default = "100"
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Fulfillment.EnrichmentFailure {
	case EnrichmentContinue, EnrichmentFail:
	default:
		return fmt.Errorf("fulfillment.enrichment_failure: unknown policy %q", c.Fulfillment.EnrichmentFailure)
	}
	switch c.Renderer.Mode {
	case "chromedp":
	case "gotenberg":
		if c.Renderer.GotenbergURL == "" {
			return errors.New("renderer.gotenberg_url is required in gotenberg mode")
		}
	default:
		return fmt.Errorf("renderer.mode: unknown mode %q", c.Renderer.Mode)
	}
	if c.Fulfillment.SignedURLTTL > 7*24*time.Hour {
		return errors.New("fulfillment.signed_url_ttl cannot exceed 7 days")
	}
	return nil
}
