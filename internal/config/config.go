// Package config loads the devassist user configuration.
// Settings come from ~/.devassist/config.yaml with environment-variable
// overrides; every field has a usable default so a missing file is not
// an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all devassist configuration.
type Config struct {
	// OS is the operating-system name folded into every inference prompt
	// so generated commands match the host shell.
	OS string `yaml:"os"`

	// LLM configures the inference service.
	LLM LLMConfig `yaml:"llm"`

	// Speech configures the voice input/output backends.
	Speech SpeechConfig `yaml:"speech"`

	// Execution configures shell command execution.
	Execution ExecutionConfig `yaml:"execution"`

	// Editor configures the Neovim session.
	Editor EditorConfig `yaml:"editor"`

	// HistoryPath is the SQLite transcript database location.
	HistoryPath string `yaml:"history_path"`
}

// LLMConfig configures the inference client.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // gemini, openai
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"` // rate-limit floor between calls
}

// SpeechConfig configures text-to-speech and speech-to-text.
type SpeechConfig struct {
	Enabled bool `yaml:"enabled"`

	// SpeakCommand is the external TTS program; the text is passed as the
	// final argument (e.g. "espeak-ng" on Linux, "say" on macOS).
	SpeakCommand string `yaml:"speak_command"`

	// ListenCommand is the external STT program; it must print the
	// recognized transcript on stdout and exit.
	ListenCommand string `yaml:"listen_command"`

	// WakePhrase gates voice capture; empty disables the gate.
	WakePhrase string `yaml:"wake_phrase"`

	ListenTimeout time.Duration `yaml:"listen_timeout"`
	PhraseLimit   time.Duration `yaml:"phrase_limit"`
}

// ExecutionConfig configures the command executor.
type ExecutionConfig struct {
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	WorkingDirectory string        `yaml:"working_directory"`
}

// EditorConfig configures the Neovim side channel.
type EditorConfig struct {
	Binary     string        `yaml:"binary"`
	SocketPath string        `yaml:"socket_path"`
	QuitGrace  time.Duration `yaml:"quit_grace"`
}

// DefaultConfig returns the default configuration for the current host.
func DefaultConfig() *Config {
	speak := "espeak-ng"
	if runtime.GOOS == "darwin" {
		speak = "say"
	}

	return &Config{
		OS: osName(),

		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Timeout:     2 * time.Minute,
			MinInterval: 600 * time.Millisecond,
		},

		Speech: SpeechConfig{
			Enabled:       true,
			SpeakCommand:  speak,
			WakePhrase:    "listen assistant",
			ListenTimeout: 10 * time.Second,
			PhraseLimit:   5 * time.Second,
		},

		Execution: ExecutionConfig{
			CommandTimeout:   30 * time.Second,
			WorkingDirectory: ".",
		},

		Editor: EditorConfig{
			Binary:     "nvim",
			SocketPath: defaultSocketPath(),
			QuitGrace:  3 * time.Second,
		},

		HistoryPath: filepath.Join(configDir(), "history.db"),
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file is absent.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration back to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment-variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DEVASSIST_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DEVASSIST_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("DEVASSIST_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("DEVASSIST_NVIM"); v != "" {
		c.Editor.Binary = v
	}
	if os.Getenv("DEVASSIST_NO_SPEECH") != "" {
		c.Speech.Enabled = false
	}
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devassist"
	}
	return filepath.Join(home, ".devassist")
}

func osName() string {
	switch runtime.GOOS {
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	default:
		return "Linux"
	}
}

func defaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\devassist-nvim`
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("devassist-nvim-%d.sock", os.Getpid()))
}
