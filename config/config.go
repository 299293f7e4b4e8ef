// Package config loads the single startup configuration of an inspection line.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	inserrors "inspectwatch/errors"
	"inspectwatch/types"
	"inspectwatch/utils"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration, read once at startup
type Config struct {
	WatchFolder     string               `yaml:"watch_single_folder_path"`
	ModelPath       string               `yaml:"initial_model_path"`
	ImageExtensions []string             `yaml:"image_extensions"`
	DebounceSeconds float64              `yaml:"debounce_seconds"`
	MaxCacheSize    int                  `yaml:"max_cache_size"`
	QueueSize       int                  `yaml:"queue_size"`
	PollInterval    time.Duration        `yaml:"poll_interval"`
	Stability       StabilityConfig      `yaml:"stability"`
	EnableGrid      bool                 `yaml:"enable_grid"`
	Grid            GridConfig           `yaml:"grid_config"`
	Prediction      PredictionParameters `yaml:"prediction_parameters"`
	StatusLogic     StatusLogic          `yaml:"status_logic"`
	Plotting        PlottingParameters   `yaml:"plotting_parameters"`
	Engine          EngineConfig         `yaml:"engine"`
	Outputs         OutputsConfig        `yaml:"outputs"`
	Logging         LoggingConfig        `yaml:"logging"`
}

// StabilityConfig controls the "file fully written" check
type StabilityConfig struct {
	Attempts   int           `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	WaitTime   time.Duration `yaml:"wait_time"`
	Interval   time.Duration `yaml:"interval"`
}

// GridConfig describes the palette
type GridConfig struct {
	Rows        int `yaml:"rows"`
	Columns     int `yaml:"columns"`
	TotalPieces int `yaml:"total_pieces"`
}

// PredictionParameters are forwarded to the inference engine
type PredictionParameters struct {
	Confidence float64 `yaml:"conf"`
	IoU        float64 `yaml:"iou"`
	Classes    []int   `yaml:"classes"`
}

// PlottingParameters controls the operator-visible annotation
type PlottingParameters struct {
	BorderThickness int `yaml:"border_thickness"`
}

// EngineConfig describes how to start the inference worker
type EngineConfig struct {
	Command        string        `yaml:"command"`
	Args           []string      `yaml:"args"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// OutputsConfig enables the presentation sinks
type OutputsConfig struct {
	Console   bool            `yaml:"console"`
	Database  DatabaseOutput  `yaml:"database"`
	Redis     RedisOutput     `yaml:"redis"`
	Websocket WebsocketOutput `yaml:"websocket"`
}

// DatabaseOutput persists the current palette snapshot
type DatabaseOutput struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RedisOutput publishes events on a Redis channel
type RedisOutput struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Instance string `yaml:"instance"`
}

// WebsocketOutput serves events to websocket clients
type WebsocketOutput struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the shared logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a configuration with the values the line ships with
func Default() *Config {
	return &Config{
		ImageExtensions: []string{".jpg", ".jpeg", ".png"},
		DebounceSeconds: 1.0,
		MaxCacheSize:    100,
		QueueSize:       10,
		PollInterval:    500 * time.Millisecond,
		Stability: StabilityConfig{
			Attempts:   5,
			RetryDelay: 300 * time.Millisecond,
			WaitTime:   time.Second,
			Interval:   200 * time.Millisecond,
		},
		EnableGrid: true,
		Grid:       GridConfig{Rows: 2, Columns: 3, TotalPieces: 6},
		Prediction: PredictionParameters{Confidence: 0.6, IoU: 0.5},
		StatusLogic: StatusLogic{
			{Status: types.StatusNOK, Keywords: []string{"bad", "nok", "defect"}},
			{Status: types.StatusOK, Keywords: []string{"good", "ok"}},
		},
		Plotting: PlottingParameters{BorderThickness: 40},
		Engine: EngineConfig{
			Command:        "python3",
			Args:           []string{utils.GetDefaultWorkerScript()},
			StartupTimeout: 30 * time.Second,
		},
		Outputs: OutputsConfig{
			Console:  true,
			Database: DatabaseOutput{Enabled: true, Path: utils.GetDefaultDatabasePath()},
			Redis:    RedisOutput{Addr: "localhost:6379", Instance: "default"},
			Websocket: WebsocketOutput{
				Addr: ":8765",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML or JSON configuration file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, inserrors.ConfigNotFound(path)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Resolve a relative watch folder against the config file location
	if cfg.WatchFolder != "" && !filepath.IsAbs(cfg.WatchFolder) {
		cfg.WatchFolder = filepath.Join(filepath.Dir(path), cfg.WatchFolder)
	}
	return cfg, nil
}

// Parse decodes configuration bytes over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, inserrors.Wrap(err, inserrors.ErrCodeConfigInvalid, "malformed configuration")
	}
	return cfg, nil
}

// DebounceWindow returns debounce_seconds as a duration
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WatchFolder) == "" {
		return inserrors.ConfigInvalid("watch_single_folder_path is required")
	}
	if len(c.ImageExtensions) == 0 {
		return inserrors.ConfigInvalid("image_extensions must not be empty")
	}
	if c.DebounceSeconds < 0 {
		return inserrors.ConfigInvalid("debounce_seconds must not be negative")
	}
	if c.MaxCacheSize <= 0 {
		return inserrors.ConfigInvalid("max_cache_size must be positive")
	}
	if c.QueueSize <= 0 {
		return inserrors.ConfigInvalid("queue_size must be positive")
	}
	if c.PollInterval <= 0 {
		return inserrors.ConfigInvalid("poll_interval must be positive")
	}
	if c.Stability.Attempts <= 0 {
		return inserrors.ConfigInvalid("stability.attempts must be positive")
	}
	if c.Stability.Interval <= 0 || c.Stability.WaitTime <= 0 {
		return inserrors.ConfigInvalid("stability.interval and stability.wait_time must be positive")
	}
	if c.Grid.Rows <= 0 || c.Grid.Columns <= 0 || c.Grid.TotalPieces <= 0 {
		return inserrors.ConfigInvalid("grid_config rows, columns and total_pieces must be positive")
	}
	if err := utils.ValidateThreshold(c.Prediction.Confidence); err != nil {
		return inserrors.ConfigInvalid(fmt.Sprintf("prediction_parameters.conf: %v", err))
	}
	if err := utils.ValidateThreshold(c.Prediction.IoU); err != nil {
		return inserrors.ConfigInvalid(fmt.Sprintf("prediction_parameters.iou: %v", err))
	}
	if len(c.StatusLogic) == 0 {
		return inserrors.ConfigInvalid("status_logic must map at least one status")
	}
	if c.Plotting.BorderThickness <= 0 {
		return inserrors.ConfigInvalid("plotting_parameters.border_thickness must be positive")
	}
	if c.Outputs.Redis.Enabled && c.Outputs.Redis.Instance == "" {
		return inserrors.ConfigInvalid("outputs.redis.instance is required when redis is enabled")
	}
	return nil
}

// Warnings reports suspicious but runnable settings
func (c *Config) Warnings() []string {
	var warnings []string
	if cells := c.Grid.Rows * c.Grid.Columns; c.Grid.TotalPieces != cells {
		warnings = append(warnings, fmt.Sprintf(
			"grid_config.total_pieces (%d) differs from rows*columns (%d); palettes will reset early or on overrun",
			c.Grid.TotalPieces, cells))
	}
	if c.ModelPath == "" {
		warnings = append(warnings, "initial_model_path is empty; the worker must load its own default model")
	}
	return warnings
}
