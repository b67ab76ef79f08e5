package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hlsdl/internal/hls"
)

// Config defines runtime settings loaded from YAML.
type Config struct {
	// Links contains playlist URLs to download.
	Links []string `yaml:"links"`
	// OutputDir is the target directory for muxed files.
	OutputDir string `yaml:"outputDir"`
	// WorkDir holds per-playlist working directories. Empty uses the OS temp dir.
	WorkDir string `yaml:"workDir"`
	// Jobs controls maximum parallel sessions.
	Jobs int `yaml:"jobs"`
	// Audio and Subtitles select renditions: "default", "all", "none" or
	// a list of language tags.
	Audio     Languages `yaml:"audio"`
	Subtitles Languages `yaml:"subtitles"`
	// Container is the output extension, mkv unless set.
	Container string `yaml:"container"`

	// Zero values below fall back to the downloader defaults.
	VideoWorkers        int           `yaml:"videoWorkers"`
	AudioWorkers        int           `yaml:"audioWorkers"`
	MaxAttempts         int           `yaml:"maxAttempts"`
	RetryDelay          time.Duration `yaml:"retryDelay"`
	StallWindow         time.Duration `yaml:"stallWindow"`
	CompletionThreshold float64       `yaml:"completionThreshold"` // percent
	// Hosts are alternative origins tried in turn for segment requests.
	Hosts []string `yaml:"hosts"`

	Timeout      time.Duration     `yaml:"timeout"`
	InsecureTLS  bool              `yaml:"insecureTLS"`
	Proxy        string            `yaml:"proxy"`
	Cookies      string            `yaml:"cookies"`
	Headers      map[string]string `yaml:"headers"`
	MaxBandwidth int64             `yaml:"maxBandwidth"`

	Cleanup     bool   `yaml:"cleanup"`
	FFmpeg      string `yaml:"ffmpeg"`
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

// Languages is a rendition filter. It accepts a single keyword or a list of
// language tags in YAML.
type Languages []string

func (l *Languages) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		*l = splitList(s)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	return fmt.Errorf("line %d: languages must be a string or a list", n.Line)
}

// Selection converts the filter for rendition selection.
func (l Languages) Selection() hls.LanguageSelection {
	if len(l) == 1 {
		switch strings.ToLower(strings.TrimSpace(l[0])) {
		case "none":
			return hls.LanguageSelection{Mode: hls.LanguagesNone}
		case "all":
			return hls.LanguageSelection{Mode: hls.LanguagesAll}
		case "default", "":
			return hls.LanguageSelection{Mode: hls.LanguagesDefault}
		}
	}
	return hls.Languages(l...)
}

// Load reads, validates, and normalizes config from a YAML file path.
// Environment overrides are applied before defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, err
	}
	if len(c.Links) == 0 {
		return Config{}, fmt.Errorf("config must contain a non-empty `links` array")
	}
	c.applyEnv()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.normalize()
	return c, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = GetEnv("HLSDL_LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetEnv("HLSDL_LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = GetEnv("HLSDL_METRICS_ADDR", c.MetricsAddr)
	c.FFmpeg = GetEnv("HLSDL_FFMPEG", c.FFmpeg)
	c.WorkDir = GetEnv("HLSDL_WORKDIR", c.WorkDir)
	c.Jobs = GetEnvInt("HLSDL_JOBS", c.Jobs)
}

func (c Config) validate() error {
	if c.CompletionThreshold < 0 || c.CompletionThreshold > 100 {
		return fmt.Errorf("completionThreshold must be a percentage within [0, 100], got %v", c.CompletionThreshold)
	}
	if c.MaxBandwidth < 0 {
		return fmt.Errorf("maxBandwidth must not be negative")
	}
	return nil
}

func (c *Config) normalize() {
	// Keep defaults centralized so callers can rely on normalized values.
	if c.OutputDir == "" {
		c.OutputDir = "downloads"
	}
	if c.Jobs <= 0 {
		c.Jobs = 2
	}
	if c.Container == "" {
		c.Container = "mkv"
	}
	c.Container = strings.TrimPrefix(c.Container, ".")
	if c.CompletionThreshold == 0 {
		c.CompletionThreshold = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FFmpeg == "" {
		c.FFmpeg = "ffmpeg"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
