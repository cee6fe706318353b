package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

var ErrUnknownWiki = errors.New("unknown wiki")

// Wiki describes one remote wiki. Values are loaded once and shared read-only.
type Wiki struct {
	ID          string `yaml:"-"`
	Name        string `yaml:"name"`
	BaseURL     string `yaml:"base_url"`
	APIEndpoint string `yaml:"api_endpoint"`
	ArticlePath string `yaml:"article_path"`
	Prefix      string `yaml:"prefix"`
	Emoji       string `yaml:"emoji"`
}

type Config struct {
	HTTPAddr       string        `yaml:"http_addr" default:":8080"`
	UserAgent      string        `yaml:"user_agent" default:"DiscordBot/Orbital (wikiembed)"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"20s"`
	MaxConcurrency int           `yaml:"max_concurrency" default:"8"`
	CacheTTL       time.Duration `yaml:"cache_ttl" default:"0s"`
	CacheSize      int           `yaml:"cache_size" default:"512"`
	ExcerptLimit   int           `yaml:"excerpt_limit" default:"1000"`
	Placeholder    string        `yaml:"placeholder" default:"I don't know."`
	LogLevel       string        `yaml:"log_level" default:"info"`
	LogFormat      string        `yaml:"log_format" default:"json"`
	Sink           string        `yaml:"sink" default:"none"`
	KafkaBroker    string        `yaml:"kafka_broker" default:"localhost:9092"`
	KafkaTopic     string        `yaml:"kafka_topic" default:"wikiembed-resolutions"`
	DefaultWiki    string        `yaml:"default_wiki"`

	Wikis      map[string]Wiki   `yaml:"wikis"`
	Categories map[string]string `yaml:"categories"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("set default config values: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	switch cfg.Sink {
	case "kafka":
	case "stdout", "none":
		cfg.KafkaBroker = ""
		cfg.KafkaTopic = ""
	default:
		return Config{}, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
	if err := cfg.normalizeWikis(); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return cfg, nil
}

func (c *Config) normalizeWikis() error {
	if len(c.Wikis) == 0 {
		return errors.New("no wikis configured")
	}
	prefixes := make(map[string]string, len(c.Wikis))
	for id, w := range c.Wikis {
		w.ID = id
		w.BaseURL = strings.TrimSuffix(strings.TrimSpace(w.BaseURL), "/")
		w.APIEndpoint = strings.TrimSpace(w.APIEndpoint)
		if w.BaseURL == "" || w.APIEndpoint == "" {
			return fmt.Errorf("wiki %q: base_url and api_endpoint are required", id)
		}
		if w.ArticlePath == "" {
			w.ArticlePath = w.BaseURL + "/"
		}
		if w.Name == "" {
			w.Name = id
		}
		if w.Prefix != "" {
			if other, ok := prefixes[w.Prefix]; ok {
				return fmt.Errorf("wiki %q: prefix %q already used by %q", id, w.Prefix, other)
			}
			prefixes[w.Prefix] = id
		}
		c.Wikis[id] = w
	}
	if c.DefaultWiki == "" {
		if len(c.Wikis) > 1 {
			return errors.New("default_wiki is required when more than one wiki is configured")
		}
		for id := range c.Wikis {
			c.DefaultWiki = id
		}
	}
	if _, ok := c.Wikis[c.DefaultWiki]; !ok {
		return fmt.Errorf("default_wiki %q: %w", c.DefaultWiki, ErrUnknownWiki)
	}
	for category, id := range c.Categories {
		if _, ok := c.Wikis[id]; !ok {
			return fmt.Errorf("category %s -> %q: %w", category, id, ErrUnknownWiki)
		}
	}
	return nil
}

// Wiki returns the wiki with the given ID. An empty ID selects the default wiki.
func (c Config) Wiki(id string) (Wiki, error) {
	if id == "" {
		id = c.DefaultWiki
	}
	w, ok := c.Wikis[id]
	if !ok {
		return Wiki{}, fmt.Errorf("%q: %w", id, ErrUnknownWiki)
	}
	return w, nil
}

func (c Config) WikiForPrefix(prefix string) (Wiki, bool) {
	if prefix == "" {
		return Wiki{}, false
	}
	for _, w := range c.Wikis {
		if w.Prefix == prefix {
			return w, true
		}
	}
	return Wiki{}, false
}

// WikiForCategory maps a chat channel category to its wiki, falling back to
// the default wiki for unmapped categories.
func (c Config) WikiForCategory(category string) Wiki {
	if id, ok := c.Categories[category]; ok {
		return c.Wikis[id]
	}
	return c.Wikis[c.DefaultWiki]
}

// Prefixes lists the configured routing prefixes in sorted order.
func (c Config) Prefixes() []string {
	out := make([]string, 0, len(c.Wikis))
	for _, w := range c.Wikis {
		if w.Prefix != "" {
			out = append(out, w.Prefix)
		}
	}
	sort.Strings(out)
	return out
}

// SortedWikis returns all wikis ordered by ID.
func (c Config) SortedWikis() []Wiki {
	out := make([]Wiki, 0, len(c.Wikis))
	for _, w := range c.Wikis {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
