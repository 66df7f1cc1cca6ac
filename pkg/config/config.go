// Package config holds process-wide settings for the subsentry service.
// Settings are resolved once at startup (defaults, then an optional YAML
// file, then environment variables) and the resulting value is passed
// explicitly into every component that needs it.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Credentials holds API keys injected into tool environments.
// A request-supplied environment variable of the same name wins.
type Credentials struct {
	ChaosKey    string `yaml:"chaos_key"`
	GithubToken string `yaml:"github_token"`
	GitlabToken string `yaml:"gitlab_token"`
}

// Settings is the immutable process configuration.
type Settings struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir is the root under which per-job workspaces are created.
	DataDir string `yaml:"data_dir"`

	// MaxConcurrency bounds the number of concurrently executing jobs.
	// It gates whole jobs, not individual tool processes.
	MaxConcurrency int `yaml:"max_concurrency"`

	// LogBufferLines is the per-job log ring buffer capacity.
	LogBufferLines int `yaml:"log_buffer_lines"`

	// WordlistRoot is the directory holding bundled wordlists and
	// resolver lists used for bruteforce default injection.
	WordlistRoot string `yaml:"wordlist_root"`

	API Credentials `yaml:"api"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		ListenAddr:     ":8000",
		DataDir:        "/data",
		MaxConcurrency: 4,
		LogBufferLines: 2000,
		WordlistRoot:   "/opt/subsentry",
	}
}

// Load resolves settings from defaults, an optional YAML file at path,
// and environment variables, in that order of precedence.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("SUBSENTRY_LISTEN_ADDR"); v != "" {
		s.ListenAddr = v
	}
	if v := os.Getenv("SUBSENTRY_DATA_DIR"); v != "" {
		s.DataDir = v
	}
	if v := os.Getenv("SUBSENTRY_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxConcurrency = n
		}
	}
	if v := os.Getenv("SUBSENTRY_LOG_BUFFER_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.LogBufferLines = n
		}
	}
	if v := os.Getenv("SUBSENTRY_WORDLIST_ROOT"); v != "" {
		s.WordlistRoot = v
	}
	if v := os.Getenv("CHAOS_API_KEY"); v != "" {
		s.API.ChaosKey = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		s.API.GithubToken = v
	}
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		s.API.GitlabToken = v
	}
}

// Validate reports whether the settings are usable.
func (s *Settings) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("%w: data_dir", ErrMissingRequired)
	}
	if s.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be greater than zero", ErrInvalidConfig)
	}
	if s.LogBufferLines < 1 {
		return fmt.Errorf("%w: log_buffer_lines must be greater than zero", ErrInvalidConfig)
	}
	return nil
}
