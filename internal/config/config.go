package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// Compute grid proxy.
	GridAPIURL      string `yaml:"gridApiURL"`
	GridClientAgent string `yaml:"gridClientAgent"`
	GridAPIKey      string `yaml:"gridApiKey"`

	// Model preset catalog and curated styles.
	ModelPresetPath string `yaml:"modelPresetPath"`
	StylesPath      string `yaml:"stylesPath"`

	// Gallery persistence. A non-empty DatabaseURL selects the relational
	// backend; otherwise the file backend at GalleryStorePath is used.
	DatabaseURL      string `yaml:"databaseURL"`
	GalleryStorePath string `yaml:"galleryStorePath"`
	MaxGalleryItems  int    `yaml:"maxGalleryItems"`

	// On-chain model/recipe registry.
	ChainEnabled         bool   `yaml:"chainEnabled"`
	ChainRPCURL          string `yaml:"chainRpcURL"`
	ChainContractAddress string `yaml:"chainContractAddress"`
	ChainCacheTTL        string `yaml:"chainCacheTTL"`
	ChainCallInterval    string `yaml:"chainCallInterval"`

	// Object storage (S3-compatible) for produced media.
	StorageEndpoint        string `yaml:"storageEndpoint"`
	StorageUseSSL          bool   `yaml:"storageUseSSL"`
	TransientBucket        string `yaml:"transientBucket"`
	PermanentBucket        string `yaml:"permanentBucket"`
	TransientAccessKey     string `yaml:"transientAccessKey"`
	TransientSecretKey     string `yaml:"transientSecretKey"`
	SharedAccessKey        string `yaml:"sharedAccessKey"`
	SharedSecretKey        string `yaml:"sharedSecretKey"`
	CDNBaseURL             string `yaml:"cdnBaseURL"`
	PresignExpiry          string `yaml:"presignExpiry"`
	MediaDefaultExtension  string `yaml:"mediaDefaultExtension"`

	// Redis-backed submission rate limiting.
	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	SubmitRateLimitPerMinute int    `yaml:"submitRateLimitPerMinute"`

	// Optional AMQP event publishing for gallery mutations.
	EventsAMQPURL string `yaml:"eventsAmqpURL"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("GALLERY_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("GALLERY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("GALLERY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("GRID_API_URL"); v != "" {
		cfg.GridAPIURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("GRID_API_KEY"); v != "" {
		cfg.GridAPIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("GALLERY_STORE_PATH"); v != "" {
		cfg.GalleryStorePath = strings.TrimSpace(v)
	}
	if v := os.Getenv("GALLERY_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MaxGalleryItems = n
		}
	}
	if v := os.Getenv("CHAIN_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.ChainEnabled = b
		}
	}
	if v := os.Getenv("CHAIN_RPC_URL"); v != "" {
		cfg.ChainRPCURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHAIN_CONTRACT_ADDRESS"); v != "" {
		cfg.ChainContractAddress = strings.TrimSpace(v)
	}
	if v := os.Getenv("STORAGE_ENDPOINT"); v != "" {
		cfg.StorageEndpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY"); v != "" {
		cfg.TransientAccessKey = v
	}
	if v := os.Getenv("STORAGE_SECRET_KEY"); v != "" {
		cfg.TransientSecretKey = v
	}
	if v := os.Getenv("STORAGE_SHARED_ACCESS_KEY"); v != "" {
		cfg.SharedAccessKey = v
	}
	if v := os.Getenv("STORAGE_SHARED_SECRET_KEY"); v != "" {
		cfg.SharedSecretKey = v
	}
	if v := os.Getenv("CDN_BASE_URL"); v != "" {
		cfg.CDNBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("EVENTS_AMQP_URL"); v != "" {
		cfg.EventsAMQPURL = strings.TrimSpace(v)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "4000"
	}
	if cfg.GridClientAgent == "" {
		cfg.GridClientAgent = "grid-gallery:v1"
	}
	if cfg.ModelPresetPath == "" {
		cfg.ModelPresetPath = "config/model_presets.json"
	}
	if cfg.StylesPath == "" {
		cfg.StylesPath = "config/styles.json"
	}
	if cfg.GalleryStorePath == "" {
		cfg.GalleryStorePath = "data/gallery.json"
	}
	if cfg.MaxGalleryItems <= 0 {
		cfg.MaxGalleryItems = 5000
	}
	if cfg.ChainCacheTTL == "" {
		cfg.ChainCacheTTL = "30m"
	}
	if cfg.ChainCallInterval == "" {
		cfg.ChainCallInterval = "300ms"
	}
	if cfg.PresignExpiry == "" {
		cfg.PresignExpiry = "30m"
	}
	if cfg.MediaDefaultExtension == "" {
		cfg.MediaDefaultExtension = ".webp"
	}
	if cfg.SubmitRateLimitPerMinute <= 0 {
		cfg.SubmitRateLimitPerMinute = 10
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.GridAPIURL == "" {
		return errors.New("config: gridApiURL is required (set in config.yaml or GRID_API_URL)")
	}
	if cfg.ChainEnabled {
		if cfg.ChainRPCURL == "" {
			return errors.New("config: chainRpcURL is required when chainEnabled is true")
		}
		if cfg.ChainContractAddress == "" {
			return errors.New("config: chainContractAddress is required when chainEnabled is true")
		}
	}
	if _, err := time.ParseDuration(cfg.ChainCacheTTL); err != nil {
		return fmt.Errorf("config: invalid chainCacheTTL: %w", err)
	}
	if _, err := time.ParseDuration(cfg.ChainCallInterval); err != nil {
		return fmt.Errorf("config: invalid chainCallInterval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.PresignExpiry); err != nil {
		return fmt.Errorf("config: invalid presignExpiry: %w", err)
	}
	return nil
}

// ChainCacheTTLDuration returns the parsed cache TTL.
func (c FileConfig) ChainCacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.ChainCacheTTL)
	return d
}

// ChainCallIntervalDuration returns the parsed inter-call delay.
func (c FileConfig) ChainCallIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.ChainCallInterval)
	return d
}

// PresignExpiryDuration returns the parsed presigned URL lifetime.
func (c FileConfig) PresignExpiryDuration() time.Duration {
	d, _ := time.ParseDuration(c.PresignExpiry)
	return d
}

// StorageConfigured reports whether any storage credential pair is set.
func (c FileConfig) StorageConfigured() bool {
	return (c.TransientAccessKey != "" && c.TransientSecretKey != "") ||
		(c.SharedAccessKey != "" && c.SharedSecretKey != "")
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
