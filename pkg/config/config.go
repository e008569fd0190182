// Package config loads the molt workspace settings from
// .social-duo/config.yaml and the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cpunion/molt/pkg/feed"
)

// ErrNoWorkspace is returned when the working directory has no initialized workspace.
var ErrNoWorkspace = errors.New("missing .social-duo/config.yaml; run `molt init` first")

// Config is the workspace configuration file.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Post       PostConfig       `yaml:"post"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SimulationConfig holds the defaults of `molt run`. Flags override them.
type SimulationConfig struct {
	Turns       int         `yaml:"turns" validate:"gte=1"`
	Platform    string      `yaml:"platform" validate:"oneof=x linkedin instagram threads all"`
	Cadence     string      `yaml:"cadence" validate:"oneof=fast normal slow"`
	Risk        string      `yaml:"risk" validate:"oneof=low medium high"`
	Topic       string      `yaml:"topic"`
	StopOn      string      `yaml:"stop_on" validate:"oneof=turns manual"`
	Temperature float32     `yaml:"temperature" validate:"gte=0,lte=2"`
	Limits      feed.Limits `yaml:"limits"`
}

// PostConfig holds the defaults of `molt post` and the brand voice the
// writer and editor follow in post, reply and chat. Donts apply to replies
// and chat revisions.
type PostConfig struct {
	Platform      string   `yaml:"platform" validate:"oneof=x linkedin instagram threads all"`
	Rounds        int      `yaml:"rounds" validate:"gte=1,lte=5"`
	Tone          string   `yaml:"tone"`
	Length        string   `yaml:"length" validate:"oneof=short medium long"`
	BrandVoice    string   `yaml:"brand_voice"`
	Donts         []string `yaml:"donts"`
	BannedPhrases []string `yaml:"banned_phrases"`
}

// LoggingConfig sets the log verbosity: info, debug or trace.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=info debug trace warn error"`
}

var validate = validator.New()

// Default returns the configuration `molt init` writes.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Turns:       30,
			Platform:    "all",
			Cadence:     "normal",
			Risk:        "medium",
			Topic:       "any",
			StopOn:      "turns",
			Temperature: 0.6,
			Limits:      feed.DefaultLimits(),
		},
		Post: PostConfig{
			Platform:      "x",
			Rounds:        2,
			Tone:          "confident",
			Length:        "short",
			BrandVoice:    "Be concise and specific. Avoid hype and unverifiable claims.",
			Donts:         []string{"Avoid hype", "Avoid unverifiable claims"},
			BannedPhrases: []string{},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	l := c.Simulation.Limits
	if l.MaxPosts < 0 || l.MaxComments < 0 || l.MaxReplies < 0 {
		return fmt.Errorf("invalid config: limits must be non-negative, got %+v", l)
	}
	return nil
}

// Load reads a config file. Keys it does not set keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoWorkspace
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := decodeStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Set updates the dotted key (for example "simulation.limits.max_replies")
// to value and returns the validated result. cfg is not modified.
func Set(cfg *Config, key, value string) (*Config, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	parts := strings.Split(key, ".")
	cur := tree
	for _, k := range parts[:len(parts)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid config path %q", key)
		}
		cur = next
	}
	last := parts[len(parts)-1]
	if _, ok := cur[last]; !ok {
		return nil, fmt.Errorf("invalid config path %q", key)
	}
	if _, isMap := cur[last].(map[string]any); isMap {
		return nil, fmt.Errorf("config path %q is a section", key)
	}
	var scalar any
	if err := yaml.Unmarshal([]byte(value), &scalar); err != nil || scalar == nil {
		scalar = value
	}
	cur[last] = scalar

	data, err = yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	out := Default()
	if err := decodeStrict(data, out); err != nil {
		return nil, fmt.Errorf("set %s: %w", key, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
