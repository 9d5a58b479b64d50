package config

import (
	_ "embed"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Input    Input    `yaml:"input"`
	LLM      LLM      `yaml:"llm"`
	Pipeline Pipeline `yaml:"pipeline"`
	Store    Store    `yaml:"store"`
	Output   Output   `yaml:"output"`
	Schedule Schedule `yaml:"schedule"`
	Logging  Logging  `yaml:"logging"`
}

type Input struct {
	ChatGlob     string   `yaml:"chat_glob"`
	IdentityFile string   `yaml:"identity_file"`
	NoiseSenders []string `yaml:"noise_senders"`
	FillerWords  []string `yaml:"filler_words"`
}

type LLM struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	OllamaURL      string  `yaml:"ollama_url"`
	OpenAIModel    string  `yaml:"openai_model"`
	OpenAIBaseURL  string  `yaml:"openai_base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Retries        int     `yaml:"retries"`
	BackoffSeconds float64 `yaml:"backoff_seconds"`
	SchemaHint     bool    `yaml:"schema_hint"`
}

type Pipeline struct {
	BatchSize         int      `yaml:"batch_size"`
	BatchDelaySeconds float64  `yaml:"batch_delay_seconds"`
	TopK              int      `yaml:"top_k"`
	PlaceholderTokens []string `yaml:"placeholder_tokens"`
	Details           bool     `yaml:"details"`
	DedupeReruns      bool     `yaml:"dedupe_reruns"`
}

type Store struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Schedule struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for topicheat.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "topicheat")
}

// DataDir returns the XDG data directory for topicheat.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "topicheat")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/topicheat/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", eris.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", eris.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'topicheat init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "reading config")
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, eris.Wrap(err, "parsing config")
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return &Config{
		Input: Input{
			NoiseSenders: []string{"QQ小冰", "群管家"},
			FillerWords:  []string{"[图片]", "[表情]", "[动画表情]", "哈哈", "哈哈哈", "666", "?", "？", "1"},
		},
		LLM: LLM{
			Provider:       "openai",
			Model:          "qwen2.5:14b",
			OllamaURL:      "http://localhost:11434",
			OpenAIModel:    "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxTokens:      4096,
			TimeoutSeconds: 600,
			Retries:        3,
			BackoffSeconds: 1.2,
			SchemaHint:     true,
		},
		Pipeline: Pipeline{
			BatchSize:         150,
			BatchDelaySeconds: 2,
			TopK:              5,
			PlaceholderTokens: []string{"极轴"},
			Details:           true,
			DedupeReruns:      true,
		},
		Store:    Store{Backend: "jsonl"},
		Schedule: Schedule{Cron: "30 2 * * *", Timezone: "Asia/Shanghai"},
		Logging:  Logging{Level: "info", Format: "console"},
	}
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return ExpandHome(c.Output.DataDir)
	}
	return DataDir()
}

// StorePath returns the accumulator location, derived from the data dir when
// not set explicitly.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return ExpandHome(c.Store.Path)
	}
	if c.Store.Backend == "sqlite" {
		return filepath.Join(c.GetDataDir(), "daily_top.db")
	}
	return filepath.Join(c.GetDataDir(), "daily_top.jsonl")
}

// CallTimeout is the per-attempt timeout for one classification call.
func (l LLM) CallTimeout() time.Duration {
	if l.TimeoutSeconds <= 0 {
		return 600 * time.Second
	}
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Backoff is the base of the linear retry backoff.
func (l LLM) Backoff() time.Duration {
	return time.Duration(math.Round(l.BackoffSeconds * float64(time.Second)))
}

// BatchDelay is the fixed pause between two classification calls.
func (p Pipeline) BatchDelay() time.Duration {
	return time.Duration(math.Round(p.BatchDelaySeconds * float64(time.Second)))
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
