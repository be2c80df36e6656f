package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Audio      AudioConfig      `yaml:"audio"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Volume     VolumeConfig     `yaml:"volume"`
	API        APIConfig        `yaml:"api"`
}

type AudioConfig struct {
	DeviceID      string        `yaml:"device_id"`
	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	FrameSize     int           `yaml:"frame_size"`
	ChunkDuration time.Duration `yaml:"chunk_duration"`
}

type PipelineConfig struct {
	SegmentDuration time.Duration `yaml:"segment_duration"`
	PadTail         bool          `yaml:"pad_tail"`
	QueueSize       int           `yaml:"queue_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PushTimeout     time.Duration `yaml:"push_timeout"` // 0 = block until there is room
	EventBuffer     int           `yaml:"event_buffer"`
}

type ClassifierConfig struct {
	Model     string        `yaml:"model"`    // "base.en", "small.en", etc.
	Language  string        `yaml:"language"` // "auto", "en", etc.
	Threads   int           `yaml:"threads"`
	Keywords  []string      `yaml:"keywords"`
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"` // per segment, 0 = none
}

type VolumeConfig struct {
	Backend    string        `yaml:"backend"` // "system" or "none"
	Control    string        `yaml:"control"` // amixer simple control
	Card       string        `yaml:"card"`    // amixer card, empty = default
	NircmdPath string        `yaml:"nircmd_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

type APIConfig struct {
	Listen string `yaml:"listen"` // empty disables the control server
}

const (
	VolumeBackendSystem = "system"
	VolumeBackendNone   = "none"
)

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// Default returns the built-in configuration: 44.1 kHz stereo capture in
// 5 second chunks, classified as whole 5 second segments.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			DeviceID:      "",
			SampleRate:    44100,
			Channels:      2,
			FrameSize:     1024,
			ChunkDuration: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			SegmentDuration: 5 * time.Second,
			PadTail:         false,
			QueueSize:       8,
			PollInterval:    time.Second,
			PushTimeout:     0,
			EventBuffer:     64,
		},
		Classifier: ClassifierConfig{
			Model:    "base.en",
			Language: "en",
			Threads:  0, // Auto-detect
			Keywords: []string{
				"sponsored by",
				"brought to you by",
				"promo code",
				"limited time offer",
				"call now",
				"visit our website",
				"free shipping",
				"terms and conditions apply",
			},
			Threshold: 0.9,
		},
		Volume: VolumeConfig{
			Backend:    VolumeBackendSystem,
			Control:    "Master",
			NircmdPath: "nircmd.exe",
			Timeout:    2 * time.Second,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8765",
		},
	}
}

// Load reads the config from disk or returns defaults. Values from a .env
// file in the working directory and ADMUTE_* environment variables override
// the file.
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile is Load with an explicit config path. A missing file is not an
// error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config on top of the defaults and validates
// the result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("ADMUTE_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("ADMUTE_DEVICE"); ok {
		cfg.Audio.DeviceID = v
	}
	if v, ok := os.LookupEnv("ADMUTE_API_LISTEN"); ok {
		cfg.API.Listen = v
	}
	if v, ok := os.LookupEnv("ADMUTE_MODEL"); ok {
		cfg.Classifier.Model = v
	}
	if v, ok := os.LookupEnv("ADMUTE_VOLUME_BACKEND"); ok {
		cfg.Volume.Backend = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !contains(validLogLevels, strings.ToLower(cfg.LogLevel)) {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: %s", cfg.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	a := cfg.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", a.SampleRate))
	}
	if a.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", a.Channels))
	}
	if a.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must be positive, got %d", a.FrameSize))
	}
	if a.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_duration must be positive, got %s", a.ChunkDuration))
	}

	p := cfg.Pipeline
	if p.SegmentDuration <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.segment_duration must be positive, got %s", p.SegmentDuration))
	} else if a.ChunkDuration > 0 && p.SegmentDuration > a.ChunkDuration {
		errs = append(errs, fmt.Errorf("pipeline.segment_duration %s exceeds audio.chunk_duration %s; no segment would ever be classified", p.SegmentDuration, a.ChunkDuration))
	}
	if p.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be positive, got %d", p.QueueSize))
	}
	if p.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.poll_interval must be positive, got %s", p.PollInterval))
	}
	if p.PushTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.push_timeout must not be negative, got %s", p.PushTimeout))
	}
	if p.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("pipeline.event_buffer must not be negative, got %d", p.EventBuffer))
	}

	c := cfg.Classifier
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("classifier.threshold %.2f is out of range (0, 1]", c.Threshold))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("classifier.timeout must not be negative, got %s", c.Timeout))
	}

	v := cfg.Volume
	if v.Backend != VolumeBackendSystem && v.Backend != VolumeBackendNone {
		errs = append(errs, fmt.Errorf("volume.backend %q is invalid; valid values: %s, %s", v.Backend, VolumeBackendSystem, VolumeBackendNone))
	}
	if v.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("volume.timeout must be positive, got %s", v.Timeout))
	}

	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveTo(configPath())
}

// SaveTo writes the config to path, creating parent directories.
func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the platform-specific config file path
func Path() string {
	return configPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "admute", "config.yaml")
}

// ModelsPath returns the platform-specific models directory path
func ModelsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "admute", "models")
}
