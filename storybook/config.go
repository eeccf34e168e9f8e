package storybook

import "github.com/hazyhaar/storylink/storybook/internal/config"

// Config is the plugin configuration, usually read from YAML.
type Config = config.Config

// Nested configuration sections.
type (
	BrowserConfig   = config.BrowserConfig
	LaunchConfig    = config.LaunchConfig
	PageConfig      = config.PageConfig
	ProbeConfig     = config.ProbeConfig
	ComponentConfig = config.ComponentConfig
	SelectorConfig  = config.SelectorConfig
)

// DefaultURL is used when Config.URL is empty.
const DefaultURL = config.DefaultURL

// LoadConfig reads a YAML configuration file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// Queries converts the components declared in cfg into queries, in
// declaration order.
func Queries(cfg *Config) []ComponentQuery {
	out := make([]ComponentQuery, 0, len(cfg.Components))
	for _, c := range cfg.Components {
		q := ComponentQuery{Path: c.Path}
		if c.Storybook != nil {
			q.Storybook = &Selector{
				Kind:    c.Storybook.Kind,
				Stories: append([]string(nil), c.Storybook.Stories...),
			}
		}
		out = append(out, q)
	}
	return out
}
