// Package config loads the lit configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matsen/litreview/internal/access"
	"github.com/matsen/litreview/internal/fetch"
	"github.com/matsen/litreview/internal/importer"
	"github.com/matsen/litreview/internal/project"
)

const (
	// Dir is the directory name under XDG_CONFIG_HOME.
	Dir = "lit"
	// File is the config file name.
	File = "config.yml"
	// DBFile is the default database file name, next to the config file.
	DBFile = "lit.db"

	// DefaultCacheTTL is how long fetched payloads stay cached.
	DefaultCacheTTL = 30 * time.Minute
)

// Environment overrides, applied after the file is read.
const (
	EnvDB         = "LIT_DB"
	EnvNCBIAPIKey = "NCBI_API_KEY"
	EnvNCBIEmail  = "NCBI_EMAIL"
)

// PubMed configures the NCBI E-utilities client.
type PubMed struct {
	APIKey    string  `yaml:"api_key,omitempty"`
	Email     string  `yaml:"email,omitempty"`
	RateLimit float64 `yaml:"rate_limit,omitempty"` // requests per second; 0 = NCBI's limit
}

// HERO configures the HERO client.
type HERO struct {
	BaseURL   string  `yaml:"base_url,omitempty"`
	RateLimit float64 `yaml:"rate_limit,omitempty"`
}

// Config is stored in ~/.config/lit/config.yml.
type Config struct {
	DBPath string `yaml:"db_path,omitempty"`

	PubMed PubMed `yaml:"pubmed,omitempty"`
	HERO   HERO   `yaml:"hero,omitempty"`

	MaxResults       int           `yaml:"max_results,omitempty"`       // largest search a batch may import
	FetchChunkSize   int           `yaml:"fetch_chunk_size,omitempty"`  // ids per fetch request
	FetchConcurrency int           `yaml:"fetch_concurrency,omitempty"` // requests in flight per import
	CacheTTL         time.Duration `yaml:"cache_ttl,omitempty"`

	// RequiredReviewers is the default for new projects.
	RequiredReviewers int `yaml:"required_reviewers,omitempty"`

	// Grants restricts who may view and edit projects. Without grants every
	// user has full access.
	Grants []access.Grant `yaml:"grants,omitempty"`
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Path returns the path to the config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/lit/config.yml.
func Path() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, Dir, File)
}

// Load reads the config file at path, or at Path() when path is empty,
// applies environment overrides and fills defaults. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDB); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvNCBIAPIKey); v != "" {
		c.PubMed.APIKey = v
	}
	if v := os.Getenv(EnvNCBIEmail); v != "" {
		c.PubMed.Email = v
	}
}

func (c *Config) applyDefaults(path string) {
	if c.DBPath == "" {
		dir := "."
		if path != "" {
			dir = filepath.Dir(path)
		}
		c.DBPath = filepath.Join(dir, DBFile)
	}
	c.DBPath = ExpandPath(c.DBPath)
	if c.HERO.BaseURL == "" {
		c.HERO.BaseURL = fetch.HEROBaseURL
	}
	if c.MaxResults == 0 {
		c.MaxResults = importer.DefaultMaxResults
	}
	if c.FetchChunkSize == 0 {
		c.FetchChunkSize = fetch.DefaultChunkSize
	}
	if c.FetchConcurrency == 0 {
		c.FetchConcurrency = fetch.DefaultConcurrency
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.RequiredReviewers == 0 {
		c.RequiredReviewers = project.DefaultRequiredReviewers
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch {
	case c.MaxResults < 0:
		return fmt.Errorf("%w: max_results must not be negative", ErrInvalid)
	case c.FetchChunkSize < 0 || c.FetchConcurrency < 0:
		return fmt.Errorf("%w: fetch limits must not be negative", ErrInvalid)
	case c.PubMed.RateLimit < 0 || c.HERO.RateLimit < 0:
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalid)
	case c.RequiredReviewers < 0:
		return fmt.Errorf("%w: required_reviewers must be at least 1", ErrInvalid)
	}
	for i, g := range c.Grants {
		if g.User == "" {
			return fmt.Errorf("%w: grant %d has no user", ErrInvalid, i)
		}
	}
	return nil
}

// Checker returns the access checker the grants describe.
func (c *Config) Checker() access.Checker {
	if len(c.Grants) == 0 {
		return access.AllowAll{}
	}
	return access.StaticChecker{Grants: c.Grants}
}

// Sources builds the cached external service clients.
func (c *Config) Sources() []fetch.Source {
	var pubmedOpts, heroOpts []fetch.ClientOption
	if c.PubMed.RateLimit > 0 {
		pubmedOpts = append(pubmedOpts, fetch.WithRateLimit(c.PubMed.RateLimit))
	}
	heroOpts = append(heroOpts, fetch.WithBaseURL(c.HERO.BaseURL))
	if c.HERO.RateLimit > 0 {
		heroOpts = append(heroOpts, fetch.WithRateLimit(c.HERO.RateLimit))
	}
	return []fetch.Source{
		fetch.NewCached(fetch.NewPubMed(c.PubMed.APIKey, c.PubMed.Email, pubmedOpts...), c.CacheTTL, 2*c.CacheTTL),
		fetch.NewCached(fetch.NewHERO(heroOpts...), c.CacheTTL, 2*c.CacheTTL),
	}
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
