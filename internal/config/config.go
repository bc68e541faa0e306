// Package config loads the teachable configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file (teachable.yaml in the working directory unless a path is given),
// TEACH_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-teachable/pkg/capture"
	"github.com/teslashibe/go-teachable/pkg/export"
	"github.com/teslashibe/go-teachable/pkg/labels"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "teachable"

// Config is the complete application configuration.
type Config struct {
	Labels   []labels.Label `mapstructure:"labels"`
	Capture  capture.Config `mapstructure:"capture"`
	Preset   string         `mapstructure:"capture_preset"` // Replaces capture size, rate and quality
	Simulate bool           `mapstructure:"simulate"`       // Synthetic frames and embeddings, no camera or model
	Model    ModelConfig    `mapstructure:"model"`
	Training TrainingConfig `mapstructure:"training"`
	Server   ServerConfig   `mapstructure:"server"`
	Export   ExportConfig   `mapstructure:"export"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      LogConfig      `mapstructure:"log"`
}

// ModelConfig describes the feature backbone.
type ModelConfig struct {
	Path         string `mapstructure:"path"` // Local ONNX file or http(s) URL
	CacheDir     string `mapstructure:"cache_dir"`
	OutputLayer  string `mapstructure:"output_layer"`
	InputWidth   int    `mapstructure:"input_width"`
	InputHeight  int    `mapstructure:"input_height"`
	EmbeddingDim int    `mapstructure:"embedding_dim"`
}

// TrainingConfig holds the classifier head and fit constants.
type TrainingConfig struct {
	Epochs       int     `mapstructure:"epochs"`
	BatchSize    int     `mapstructure:"batch_size"`
	Shuffle      bool    `mapstructure:"shuffle"`
	HiddenUnits  int     `mapstructure:"hidden_units"`
	LearningRate float64 `mapstructure:"learning_rate"`
	Seed         uint64  `mapstructure:"seed"`
}

// ServerConfig configures the dashboard.
type ServerConfig struct {
	Port      string `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

// ExportConfig selects where trained models go. Every configured target
// receives each artifact; the in-memory download is always available.
type ExportConfig struct {
	Dir   string             `mapstructure:"dir"` // "" disables the file exporter
	MinIO export.MinIOConfig `mapstructure:"minio"`
	Drive export.DriveConfig `mapstructure:"drive"`
}

// MinIOEnabled reports whether an object storage endpoint is configured.
func (e ExportConfig) MinIOEnabled() bool {
	return e.MinIO.Endpoint != ""
}

// DriveEnabled reports whether Google Drive credentials are configured.
func (e ExportConfig) DriveEnabled() bool {
	return e.Drive.ClientID != ""
}

// HistoryConfig configures the training run store.
type HistoryConfig struct {
	Path    string `mapstructure:"path"` // "" keeps runs in memory only
	MaxRuns int    `mapstructure:"max_runs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Debug bool   `mapstructure:"debug"` // Shorthand for level debug
}

// DefaultLabels returns the two labels the dashboard starts with.
func DefaultLabels() []labels.Label {
	return []labels.Label{
		{Index: 0, Name: "Class 1"},
		{Index: 1, Name: "Class 2"},
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Labels:  DefaultLabels(),
		Capture: capture.DefaultConfig(),
		Model: ModelConfig{
			Path:         "models/mobilenet_v2_features.onnx",
			CacheDir:     "models/cache",
			InputWidth:   224,
			InputHeight:  224,
			EmbeddingDim: 1280,
		},
		Training: TrainingConfig{
			Epochs:       5,
			BatchSize:    5,
			Shuffle:      true,
			HiddenUnits:  64,
			LearningRate: 0.001,
			Seed:         42,
		},
		Server: ServerConfig{
			Port:      "8080",
			StaticDir: "./web",
		},
		Export: ExportConfig{
			Dir: "models/exported",
			MinIO: export.MinIOConfig{
				Bucket: "teachable",
				Prefix: "models",
			},
		},
		History: HistoryConfig{
			Path:    "data/runs.json",
			MaxRuns: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigError lists every validation problem.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration and returns a *ConfigError.
func (c *Config) Validate() error {
	var problems []string

	if _, err := labels.NewSet(c.Labels); err != nil {
		problems = append(problems, err.Error())
	}
	for _, p := range c.Capture.Validate() {
		problems = append(problems, "capture: "+p)
	}

	if !c.Simulate {
		if c.Model.Path == "" {
			problems = append(problems, "model: path is required")
		}
		if c.Model.InputWidth <= 0 || c.Model.InputHeight <= 0 {
			problems = append(problems, "model: input size must be positive")
		}
	}
	if c.Model.EmbeddingDim <= 0 {
		problems = append(problems, "model: embedding_dim must be positive")
	}

	t := c.Training
	if t.Epochs <= 0 {
		problems = append(problems, "training: epochs must be positive")
	}
	if t.BatchSize <= 0 {
		problems = append(problems, "training: batch_size must be positive")
	}
	if t.HiddenUnits <= 0 {
		problems = append(problems, "training: hidden_units must be positive")
	}
	if t.LearningRate <= 0 {
		problems = append(problems, "training: learning_rate must be positive")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 0 || port > 65535 {
		problems = append(problems, fmt.Sprintf("server: invalid port %q", c.Server.Port))
	}

	if c.Export.MinIOEnabled() {
		if err := c.Export.MinIO.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if c.Export.DriveEnabled() && c.Export.Drive.ClientSecret == "" {
		problems = append(problems, "export: drive client_secret is required with client_id")
	}

	if c.History.MaxRuns < 0 {
		problems = append(problems, "history: max_runs must not be negative")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func (c *Config) applyPreset() error {
	p := capture.GetPreset(c.Preset)
	if p == nil {
		return &ConfigError{Problems: []string{fmt.Sprintf("capture: unknown preset %q", c.Preset)}}
	}
	device := c.Capture.Device
	c.Capture = *p
	c.Capture.Device = device
	return nil
}

// LabelSet builds the validated label set.
func (c *Config) LabelSet() (*labels.Set, error) {
	return labels.NewSet(c.Labels)
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":      "server.port",
	"device":    "capture.device",
	"model":     "model.path",
	"simulate":  "simulate",
	"preset":    "capture_preset",
	"log-level": "log.level",
	"debug":     "log.debug",
}

// Load reads the configuration. An empty path looks for teachable.yaml in
// the working directory and tolerates its absence. flags may be nil; only
// flags the user set override the file and environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultFile)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read %s.yaml: %w", DefaultFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabels()
	}
	if cfg.Preset != "" {
		if err := cfg.applyPreset(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every scalar key so that environment variables
// can override keys absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("simulate", d.Simulate)
	v.SetDefault("capture_preset", d.Preset)

	v.SetDefault("capture.device", d.Capture.Device)
	v.SetDefault("capture.width", d.Capture.Width)
	v.SetDefault("capture.height", d.Capture.Height)
	v.SetDefault("capture.framerate", d.Capture.Framerate)
	v.SetDefault("capture.quality", d.Capture.Quality)

	v.SetDefault("model.path", d.Model.Path)
	v.SetDefault("model.cache_dir", d.Model.CacheDir)
	v.SetDefault("model.output_layer", d.Model.OutputLayer)
	v.SetDefault("model.input_width", d.Model.InputWidth)
	v.SetDefault("model.input_height", d.Model.InputHeight)
	v.SetDefault("model.embedding_dim", d.Model.EmbeddingDim)

	v.SetDefault("training.epochs", d.Training.Epochs)
	v.SetDefault("training.batch_size", d.Training.BatchSize)
	v.SetDefault("training.shuffle", d.Training.Shuffle)
	v.SetDefault("training.hidden_units", d.Training.HiddenUnits)
	v.SetDefault("training.learning_rate", d.Training.LearningRate)
	v.SetDefault("training.seed", d.Training.Seed)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.static_dir", d.Server.StaticDir)

	v.SetDefault("export.dir", d.Export.Dir)
	v.SetDefault("export.minio.endpoint", d.Export.MinIO.Endpoint)
	v.SetDefault("export.minio.access_key", d.Export.MinIO.AccessKey)
	v.SetDefault("export.minio.secret_key", d.Export.MinIO.SecretKey)
	v.SetDefault("export.minio.bucket", d.Export.MinIO.Bucket)
	v.SetDefault("export.minio.prefix", d.Export.MinIO.Prefix)
	v.SetDefault("export.minio.region", d.Export.MinIO.Region)
	v.SetDefault("export.minio.use_ssl", d.Export.MinIO.UseSSL)
	v.SetDefault("export.drive.client_id", d.Export.Drive.ClientID)
	v.SetDefault("export.drive.client_secret", d.Export.Drive.ClientSecret)
	v.SetDefault("export.drive.redirect_url", d.Export.Drive.RedirectURL)
	v.SetDefault("export.drive.token_path", d.Export.Drive.TokenPath)
	v.SetDefault("export.drive.folder_id", d.Export.Drive.FolderID)

	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.max_runs", d.History.MaxRuns)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.debug", d.Log.Debug)
}
