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

const (
	defaultPort                 = 8080
	defaultDataDir              = "data"
	defaultLogLevel             = "info"
	defaultConverterURL         = "http://127.0.0.1:8000"
	defaultConverterTimeout     = 60 * time.Second
	defaultMaxConcurrentBatches = 3
	defaultQuality              = 85
	defaultMaxUploadMB          = 64
	defaultArchiveName          = "converted_images.zip"
	defaultSessionTTL           = time.Hour
)

// Converter locates the external conversion service.
type Converter struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config describes runtime configuration for the service and the CLI.
type Config struct {
	Port                 int       `yaml:"port"`
	DataDir              string    `yaml:"data_dir"`
	LogLevel             string    `yaml:"log_level"`
	Converter            Converter `yaml:"converter"`
	MaxConcurrentBatches int       `yaml:"max_concurrent_batches"`
	DefaultQuality       int       `yaml:"default_quality"`
	MaxUploadMB          int64     `yaml:"max_upload_mb"`
	ArchiveName          string    `yaml:"archive_name"`
	// SessionTTL is how long an untouched session is kept. Zero keeps
	// sessions until they are deleted.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

func Default() Config {
	return Config{
		Port:     defaultPort,
		DataDir:  defaultDataDir,
		LogLevel: defaultLogLevel,
		Converter: Converter{
			URL:     defaultConverterURL,
			Timeout: defaultConverterTimeout,
		},
		MaxConcurrentBatches: defaultMaxConcurrentBatches,
		DefaultQuality:       defaultQuality,
		MaxUploadMB:          defaultMaxUploadMB,
		ArchiveName:          defaultArchiveName,
		SessionTTL:           defaultSessionTTL,
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from IMGBATCH_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := lookup("IMGBATCH_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IMGBATCH_PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookup("IMGBATCH_CONVERTER_URL"); ok {
		c.Converter.URL = v
	}
	if v, ok := lookup("IMGBATCH_CONVERTER_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IMGBATCH_CONVERTER_TIMEOUT: %w", err)
		}
		c.Converter.Timeout = d
	}
	if v, ok := lookup("IMGBATCH_DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := lookup("IMGBATCH_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("IMGBATCH_SESSION_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IMGBATCH_SESSION_TTL: %w", err)
		}
		c.SessionTTL = d
	}
	c.normalize()
	return c.Validate()
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.MaxConcurrentBatches < 1 {
		return fmt.Errorf("invalid max_concurrent_batches: %d (must be >= 1)", c.MaxConcurrentBatches)
	}
	if c.DefaultQuality < 0 || c.DefaultQuality > 100 {
		return fmt.Errorf("invalid default_quality: %d (must be 0..100)", c.DefaultQuality)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("invalid session_ttl: %s", c.SessionTTL)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if !strings.HasPrefix(c.Converter.URL, "http://") && !strings.HasPrefix(c.Converter.URL, "https://") {
		return fmt.Errorf("invalid converter url: %q", c.Converter.URL)
	}
	return nil
}

// MaxUploadBytes is the request size limit for file uploads.
func (c Config) MaxUploadBytes() int64 { return c.MaxUploadMB << 20 }

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.Converter.URL = strings.TrimRight(strings.TrimSpace(c.Converter.URL), "/")
	if c.Converter.URL == "" {
		c.Converter.URL = defaultConverterURL
	}
	if c.Converter.Timeout <= 0 {
		c.Converter.Timeout = defaultConverterTimeout
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = defaultMaxUploadMB
	}
	if strings.TrimSpace(c.ArchiveName) == "" {
		c.ArchiveName = defaultArchiveName
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
