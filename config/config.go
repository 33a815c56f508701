// Package config - application configuration from yaml, .env and PHOTOSELECT_* variables.
package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-photogrammetry/frames"
	"github.com/nvr-ai/go-photogrammetry/inference/providers"
	"github.com/nvr-ai/go-photogrammetry/masks"
	"github.com/nvr-ai/go-photogrammetry/models/yoloseg"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PHOTOSELECT_"

// ErrInvalidConfig marks values outside their allowed range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	// Debug logs every candidate's score breakdown.
	Debug bool `yaml:"debug"`
	// HistoryPath is the sqlite run ledger. Empty disables recording.
	HistoryPath string `yaml:"history_path"`

	Output OutputConfig   `yaml:"output"`
	Frames frames.Options `yaml:"frames"`
	Masks  masks.Options  `yaml:"masks"`
	Model  yoloseg.Config `yaml:"model"`
}

// OutputConfig names the output layout.
type OutputConfig struct {
	FramesDir    string `yaml:"frames_dir"`
	SegmentedDir string `yaml:"segmented_dir"`
	MaskDir      string `yaml:"mask_dir"`
	JPEGQuality  int    `yaml:"jpeg_quality"`
	// EmbedScore appends the quality score to frame file names.
	EmbedScore bool `yaml:"embed_score"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		HistoryPath: defaultHistoryPath(),
		Output: OutputConfig{
			FramesDir:    "./output/frames",
			SegmentedDir: "./output/segmented",
			MaskDir:      "./output/masks",
			JPEGQuality:  95,
		},
		Frames: defaultFrames(),
		Masks:  masks.DefaultOptions(),
		Model:  yoloseg.DefaultConfig(),
	}
}

// defaultFrames selects 60 frames unless the configuration asks for the duration-derived count
// with target 0.
func defaultFrames() frames.Options {
	opts := frames.DefaultOptions()
	opts.Target = 60
	return opts
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "photoselect", "history.db")
}

// Load reads configuration from path, or from the first search location that exists, over the
// defaults. A .env file in the working directory is loaded first and PHOTOSELECT_* variables are
// applied last.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func findConfigFile() string {
	candidates := []string{
		"./photoselect.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "photoselect", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func (c *Config) applyEnv() error {
	if v, ok := lookup("MODEL_PATH"); ok {
		c.Model.ModelPath = v
	}
	if v, ok := lookup("ORT_LIBRARY"); ok {
		c.Model.LibraryPath = v
	}
	if v, ok := lookup("BACKEND"); ok {
		c.Model.Backend = v
	}
	if v, ok := lookup("HISTORY"); ok {
		c.HistoryPath = v
	}
	if v, ok := lookup("WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%sWORKERS=%q", EnvPrefix, v)
		}
		c.Frames.Workers = n
		c.Masks.Workers = n
	}
	if v, ok := lookup("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%sDEBUG=%q", EnvPrefix, v)
		}
		c.Debug = b
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Validate rejects values outside their allowed ranges.
func (c *Config) Validate() error {
	f := c.Frames
	switch {
	case f.Target < 0:
		return errors.Wrapf(ErrInvalidConfig, "frames.target %d is negative", f.Target)
	case f.SampleFraction <= 0 || f.SampleFraction > 1:
		return errors.Wrapf(ErrInvalidConfig, "frames.sample_fraction %.2f outside (0,1]", f.SampleFraction)
	case f.Oversample < 1:
		return errors.Wrapf(ErrInvalidConfig, "frames.oversample %d below 1", f.Oversample)
	case f.MinSamples < 1:
		return errors.Wrapf(ErrInvalidConfig, "frames.min_samples %d below 1", f.MinSamples)
	case f.BestEffortFrames < 1:
		return errors.Wrapf(ErrInvalidConfig, "frames.best_effort_frames %d below 1", f.BestEffortFrames)
	case f.BestEffortFactor < 1:
		return errors.Wrapf(ErrInvalidConfig, "frames.best_effort_factor %d below 1", f.BestEffortFactor)
	case f.EmergencyPercentile < 0 || f.NormalPercentile > 100 || f.EmergencyPercentile > f.NormalPercentile:
		return errors.Wrapf(ErrInvalidConfig, "frames percentiles %.0f/%.0f", f.NormalPercentile, f.EmergencyPercentile)
	case f.SimilarityCeiling <= 0 || f.SimilarityCeiling > 1:
		return errors.Wrapf(ErrInvalidConfig, "frames.similarity_ceiling %.2f outside (0,1]", f.SimilarityCeiling)
	case f.Workers < 1:
		return errors.Wrapf(ErrInvalidConfig, "frames.workers %d below 1", f.Workers)
	}

	m := c.Masks
	switch {
	case m.Confidence <= 0 || m.Confidence > 1:
		return errors.Wrapf(ErrInvalidConfig, "masks.confidence %.2f outside (0,1]", m.Confidence)
	case m.Workers < 1:
		return errors.Wrapf(ErrInvalidConfig, "masks.workers %d below 1", m.Workers)
	case m.Background != masks.BackgroundBlack && m.Background != masks.BackgroundNeutral:
		return errors.Wrapf(ErrInvalidConfig, "masks.background %q", m.Background)
	}

	if q := c.Output.JPEGQuality; q < 1 || q > 100 {
		return errors.Wrapf(ErrInvalidConfig, "output.jpeg_quality %d outside [1,100]", q)
	}

	if _, err := providers.ParseBackend(c.Model.Backend); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if err := c.Model.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context, or the defaults when none was stored.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
