// Package config handles storybook plugin configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultURL is where a local Storybook dev server listens by default.
const DefaultURL = "http://localhost:6006"

// Link formats.
const (
	FormatNew = "new"
	FormatOld = "old"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level plugin configuration.
type Config struct {
	URL       string `yaml:"url"`
	TargetURL string `yaml:"target_url"`

	// FetchStories is a pointer so that an absent key defaults to true.
	FetchStories     *bool  `yaml:"fetch_stories"`
	StartScript      string `yaml:"start_script"`
	Command          string `yaml:"command"`
	Format           string `yaml:"format"` // new | old
	UseDocsPage      bool   `yaml:"use_docs_page"`
	FailFastOnErrors bool   `yaml:"fail_fast_on_errors"`
	IgnoreSSLErrors  bool   `yaml:"ignore_ssl_errors"`

	Browser BrowserConfig `yaml:"browser"`
	Launch  LaunchConfig  `yaml:"launch"`
	Page    PageConfig    `yaml:"page"`
	Probe   ProbeConfig   `yaml:"probe"`

	Components []ComponentConfig `yaml:"components"`
}

// BrowserConfig controls the headless Chrome used for discovery.
type BrowserConfig struct {
	Remote         string   `yaml:"remote"`
	Stealth        bool     `yaml:"stealth"`
	BlockResources []string `yaml:"block_resources"`
}

// LaunchConfig tunes the start_script/command wait loop.
type LaunchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	NoticeInterval time.Duration `yaml:"notice_interval"`
}

// PageConfig tunes page loading.
type PageConfig struct {
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

// ProbeConfig tunes readiness checks.
type ProbeConfig struct {
	// StrictTLS disables the self-signed leniency of readiness checks
	// unless ignore_ssl_errors is set.
	StrictTLS bool `yaml:"strict_tls"`
	// RequireOK makes only 2xx responses count as ready.
	RequireOK bool `yaml:"require_ok"`
}

// ComponentConfig is one design component as declared by the host.
type ComponentConfig struct {
	Path      string          `yaml:"path"`
	Storybook *SelectorConfig `yaml:"storybook"`
}

// SelectorConfig is an author-declared static story selector.
type SelectorConfig struct {
	Kind    string   `yaml:"kind"`
	Stories []string `yaml:"stories"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.FetchStories == nil {
		on := true
		c.FetchStories = &on
	}
	if c.Format == "" {
		c.Format = FormatNew
	}
	if c.Launch.Timeout <= 0 {
		c.Launch.Timeout = 5 * time.Minute
	}
	if c.Launch.PollInterval <= 0 {
		c.Launch.PollInterval = time.Second
	}
	if c.Launch.NoticeInterval <= 0 {
		c.Launch.NoticeInterval = 30 * time.Second
	}
	if c.Page.LoadTimeout <= 0 {
		c.Page.LoadTimeout = 60 * time.Second
	}
}

// ShouldFetchStories reports whether discovery is enabled (default true).
func (c *Config) ShouldFetchStories() bool {
	return c.FetchStories == nil || *c.FetchStories
}

// Validate checks the fields Init depends on.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	if err := checkURL(c.URL); err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalid, err)
	}
	if c.TargetURL != "" {
		if err := checkURL(c.TargetURL); err != nil {
			return fmt.Errorf("%w: target_url: %v", ErrInvalid, err)
		}
	}
	switch c.Format {
	case FormatNew, FormatOld, "":
	default:
		return fmt.Errorf("%w: format %q (want %q or %q)", ErrInvalid, c.Format, FormatNew, FormatOld)
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
