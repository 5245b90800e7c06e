package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/richinsley/autoboard/client"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AUTOBOARD_BACKEND_URL.
const EnvPrefix = "autoboard"

// Config is the flat settings file of the plugin. Durations are stored as
// plain numbers so the file stays hand editable.
type Config struct {
	BackendURL         string  `mapstructure:"backend_url" json:"backend_url" envconfig:"BACKEND_URL" validate:"required,url"`
	BackendType        string  `mapstructure:"backend_type" json:"backend_type" envconfig:"BACKEND_TYPE" validate:"oneof=automatic1111 comfyui"`
	Timeout            int     `mapstructure:"timeout" json:"timeout" envconfig:"TIMEOUT" validate:"gte=1,lte=3600"`
	PollIntervalMS     int     `mapstructure:"poll_interval_ms" json:"poll_interval_ms" envconfig:"POLL_INTERVAL_MS" validate:"gte=1"`
	MaxPollAttempts    int     `mapstructure:"max_poll_attempts" json:"max_poll_attempts" envconfig:"MAX_POLL_ATTEMPTS" validate:"gte=1"`
	MaxWait            int     `mapstructure:"max_wait" json:"max_wait" envconfig:"MAX_WAIT" validate:"gte=1"`
	OutputDir          string  `mapstructure:"output_dir" json:"output_dir" envconfig:"OUTPUT_DIR"`
	UseWebSocket       bool    `mapstructure:"use_websocket" json:"use_websocket" envconfig:"USE_WEBSOCKET"`
	ProgressIntervalMS int     `mapstructure:"progress_interval_ms" json:"progress_interval_ms" envconfig:"PROGRESS_INTERVAL_MS" validate:"gte=0"`
	Checkpoint         string  `mapstructure:"checkpoint" json:"checkpoint" envconfig:"CHECKPOINT"`
	DefaultWidth       int     `mapstructure:"default_width" json:"default_width" envconfig:"DEFAULT_WIDTH" validate:"gte=64,lte=2048"`
	DefaultHeight      int     `mapstructure:"default_height" json:"default_height" envconfig:"DEFAULT_HEIGHT" validate:"gte=64,lte=2048"`
	DefaultSteps       int     `mapstructure:"default_steps" json:"default_steps" envconfig:"DEFAULT_STEPS" validate:"gte=1,lte=150"`
	DefaultCFGScale    float64 `mapstructure:"default_cfg_scale" json:"default_cfg_scale" envconfig:"DEFAULT_CFG_SCALE" validate:"gte=1,lte=30"`
	DefaultSampler     string  `mapstructure:"default_sampler" json:"default_sampler" envconfig:"DEFAULT_SAMPLER" validate:"required"`
	PromptHistorySize  int     `mapstructure:"prompt_history_size" json:"prompt_history_size" envconfig:"PROMPT_HISTORY_SIZE" validate:"gte=0,lte=1000"`
	ShowAdvanced       bool    `mapstructure:"show_advanced" json:"show_advanced" envconfig:"SHOW_ADVANCED"`
	ExportDir          string  `mapstructure:"export_dir" json:"export_dir" envconfig:"EXPORT_DIR"`
	ExportBucket       string  `mapstructure:"export_bucket" json:"export_bucket" envconfig:"EXPORT_BUCKET"`
	ExportFormat       string  `mapstructure:"export_format" json:"export_format" envconfig:"EXPORT_FORMAT" validate:"oneof=png jpeg"`
}

func Default() *Config {
	return &Config{
		BackendURL:         "http://127.0.0.1:7860",
		BackendType:        string(client.Automatic1111),
		Timeout:            int(client.DefaultTimeout / time.Second),
		PollIntervalMS:     int(client.DefaultPollInterval / time.Millisecond),
		MaxPollAttempts:    client.DefaultMaxPollAttempts,
		MaxWait:            int(client.DefaultMaxWait / time.Second),
		ProgressIntervalMS: 0,
		DefaultWidth:       512,
		DefaultHeight:      512,
		DefaultSteps:       20,
		DefaultCFGScale:    7.0,
		DefaultSampler:     "Euler a",
		PromptHistorySize:  50,
		ExportFormat:       "png",
	}
}

// DefaultPath is where the host application keeps plugin settings.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "krita", "autoboarding.json"), nil
}

// Load reads the settings file at path on top of the defaults, applies
// AUTOBOARD_* environment overrides and validates the result. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	for key, value := range cfg.settings() {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Save writes the settings to path as JSON, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("json")
	for key, value := range c.settings() {
		v.Set(key, value)
	}
	return v.WriteConfigAs(path)
}

// settings flattens the config into its file keys.
func (c *Config) settings() map[string]interface{} {
	data, _ := json.Marshal(c)
	m := make(map[string]interface{})
	_ = json.Unmarshal(data, &m)
	return m
}

func (c *Config) Backend() client.BackendKind {
	return client.BackendKind(c.BackendType)
}

// ClientOptions maps the settings onto generation client options.
func (c *Config) ClientOptions() []client.Option {
	opts := []client.Option{
		client.WithBackend(c.Backend()),
		client.WithTimeout(time.Duration(c.Timeout) * time.Second),
		client.WithPollInterval(time.Duration(c.PollIntervalMS) * time.Millisecond),
		client.WithMaxPollAttempts(c.MaxPollAttempts),
		client.WithMaxWait(time.Duration(c.MaxWait) * time.Second),
		client.WithProgressInterval(time.Duration(c.ProgressIntervalMS) * time.Millisecond),
	}
	if c.OutputDir != "" {
		opts = append(opts, client.WithOutputDir(c.OutputDir))
	}
	if c.UseWebSocket {
		opts = append(opts, client.WithWebSocket(3))
	}
	return opts
}

// Builder returns a request builder using the configured checkpoint.
func (c *Config) Builder() client.Builder {
	return client.Builder{Checkpoint: c.Checkpoint}
}

// DefaultRequest returns a request for prompt filled with the default
// generation parameters.
func (c *Config) DefaultRequest(prompt string) client.GenerationRequest {
	return client.GenerationRequest{
		Prompt:   prompt,
		Width:    c.DefaultWidth,
		Height:   c.DefaultHeight,
		Steps:    c.DefaultSteps,
		CFGScale: c.DefaultCFGScale,
		Sampler:  c.DefaultSampler,
	}
}
