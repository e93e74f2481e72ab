package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/elabmate/pkg/errors"
)

// DefaultFileName is the conventional name of the server configuration file.
// Nothing loads it implicitly; it only serves as a default for CLI flags.
const DefaultFileName = "elab_server.conf"

// EnvPrefix prefixes the environment variables that override file values.
const EnvPrefix = "ELAB"

// Recognised configuration keys.
const (
	KeyAPIHostURL             = "API_HOST_URL"
	KeyAPIKey                 = "API_KEY"
	KeyVerifySSL              = "VERIFY_SSL"
	KeyUniqueExperimentTitles = "UNIQUE_EXPERIMENTS_TITLES"
	KeyTeamID                 = "TEAM_ID"
	KeyLabmateDataDir         = "LABMATE_DATA_DIR"
	KeyRequestTimeout         = "REQUEST_TIMEOUT"
)

// DefaultRequestTimeout bounds the wait for the server's response headers.
const DefaultRequestTimeout = 30 * time.Second

// Config is the resolved eLabFTW connection configuration.
type Config struct {
	// APIHostURL is the API root, e.g. https://elab.example.org/api/v2
	APIHostURL string `yaml:"api_host_url" json:"api_host_url"`
	// APIKey is sent verbatim in the Authorization header
	APIKey string `yaml:"api_key" json:"api_key"`
	// VerifySSL disables certificate verification only when explicitly false
	VerifySSL bool `yaml:"verify_ssl" json:"verify_ssl"`
	// UniqueExperimentTitles rejects creating two experiments with one title
	UniqueExperimentTitles bool `yaml:"unique_experiments_titles" json:"unique_experiments_titles"`
	// TeamID scopes categories and statuses; 0 means resolve it from the API
	TeamID int `yaml:"team_id,omitempty" json:"team_id,omitempty"`
	// LabmateDataDir is where Labmate writes acquisitions
	LabmateDataDir string `yaml:"labmate_data_dir,omitempty" json:"labmate_data_dir,omitempty"`
	// RequestTimeout bounds the wait for response headers. Uploads and
	// downloads stream for as long as the caller's context allows.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Raw holds every KEY=VALUE pair read from the file, unknown keys included
	Raw map[string]string `yaml:"-" json:"-"`
}

// Default returns a Config with every optional setting at its default.
func Default() *Config {
	return &Config{
		VerifySSL:      true,
		RequestTimeout: DefaultRequestTimeout,
		Raw:            make(map[string]string),
	}
}

// Validate checks a programmatically built Config the same way Load does.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIHostURL) == "" {
		return errors.Newf(errors.ErrorTypeConfig, "%s is required", KeyAPIHostURL)
	}
	u, err := url.Parse(c.APIHostURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.Newf(errors.ErrorTypeConfig, "%s must be an absolute http(s) URL, got %q", KeyAPIHostURL, c.APIHostURL)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.Newf(errors.ErrorTypeConfig, "%s is required", KeyAPIKey)
	}
	if c.TeamID < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "%s must be a positive integer", KeyTeamID)
	}
	if c.RequestTimeout <= 0 {
		return errors.Newf(errors.ErrorTypeConfig, "%s must be positive", KeyRequestTimeout)
	}
	return nil
}

// HasTeamID reports whether the team is configured rather than resolved remotely.
func (c *Config) HasTeamID() bool {
	return c.TeamID > 0
}

// LabmateEnabled reports whether a Labmate data directory is configured.
func (c *Config) LabmateEnabled() bool {
	return c.LabmateDataDir != ""
}

// Redacted returns a copy safe to print or log.
func (c *Config) Redacted() Config {
	out := *c
	out.APIKey = redact(c.APIKey)
	out.Raw = nil
	return out
}

func redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", 8)
}
