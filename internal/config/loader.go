package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"go.uber.org/zap"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the config directory
const FileName = "immich_config.yaml"

// Environment variables that override the file
const (
	EnvURL    = "IMMICH_URL"
	EnvAPIKey = "IMMICH_API_KEY"
)

var knownPlatforms = map[string]bool{
	"sensor":        true,
	"binary_sensor": true,
	"switch":        true,
}

// Config represents the immich_config.yaml structure
type Config struct {
	Host   string `yaml:"host" validate:"required"`
	APIKey string `yaml:"api_key" validate:"required"`

	// ScanInterval is how often the job list is polled
	ScanInterval time.Duration `yaml:"scan_interval" default:"30s" validate:"positive"`

	// Timeout bounds every request to the server
	Timeout time.Duration `yaml:"timeout" default:"10s" validate:"positive"`

	Platforms   []string `yaml:"platforms" default:"[\"sensor\",\"binary_sensor\",\"switch\"]" validate:"min=1,dive,platform"`
	IncludeJobs []string `yaml:"include_jobs" default:"[\"*\"]" validate:"min=1,dive,required"`

	ListenPort int `yaml:"listen_port" default:"8080" validate:"min=1,max=65535"`
}

// Loader reads and validates the configuration
type Loader struct {
	configDir string
	logger    *zap.Logger

	mu       sync.Mutex
	validate *validator.Validate
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	v := validator.New()
	registerValidation(v, logger, "platform", func(fl validator.FieldLevel) bool {
		return knownPlatforms[fl.Field().String()]
	})
	registerValidation(v, logger, "positive", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() > 0
	})

	return &Loader{
		configDir: configDir,
		logger:    logger,
		validate:  v,
	}
}

// Load reads the config file when present, applies environment overrides
// and defaults, then validates. A missing file is not an error as long as
// the environment supplies host and API key.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cfg Config

	path := filepath.Join(l.configDir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		l.logger.Debug("Loading config", zap.String("path", path))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
	case errors.Is(err, os.ErrNotExist):
		l.logger.Info("No config file found, using environment", zap.String("path", path))
	default:
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	if v := os.Getenv(EnvURL); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := l.validate.Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, e := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", e.Namespace(), e.Tag()))
			}
			return nil, fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l.logger.Info("Config loaded",
		zap.String("host", cfg.Host),
		zap.Duration("scan_interval", cfg.ScanInterval),
		zap.Strings("platforms", cfg.Platforms))
	return &cfg, nil
}

func registerValidation(v *validator.Validate, logger *zap.Logger, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		logger.Error("Failed to register validator", zap.String("tag", tag), zap.Error(err))
	}
}
