package config

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/elabmate/pkg/errors"
)

// Load reads and resolves the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
			WithDetail("file", path)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid config file "+path).
			WithDetail("file", path)
	}
	return cfg, nil
}

// Parse reads KEY=VALUE pairs from r and resolves them into a Config.
// Environment variables prefixed with ELAB_ take precedence over file values.
func Parse(r io.Reader) (*Config, error) {
	pairs, err := scanPairs(r)
	if err != nil {
		return nil, err
	}
	return resolve(pairs)
}

// scanPairs enforces the line grammar; viper's own env parser accepts too much.
func scanPairs(r io.Reader) (map[string]string, error) {
	pairs := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || !validKey(key) {
			return nil, errors.Newf(errors.ErrorTypeConfig, "line %d: expected KEY=VALUE, got %q", lineNo, line).
				WithDetail("line", lineNo)
		}
		pairs[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read configuration")
	}
	return pairs, nil
}

// validKey accepts upper-case keys only; viper folds case on lookup.
func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}

// resolve layers defaults < file values < ELAB_* environment.
func resolve(pairs map[string]string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault(KeyVerifySSL, "true")
	v.SetDefault(KeyUniqueExperimentTitles, "false")
	v.SetDefault(KeyRequestTimeout, DefaultRequestTimeout.String())

	fileValues := make(map[string]interface{}, len(pairs))
	for k, val := range pairs {
		fileValues[k] = val
	}
	if err := v.MergeConfigMap(fileValues); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to merge configuration")
	}

	cfg := Default()
	for k, val := range pairs {
		cfg.Raw[k] = val
	}

	cfg.APIHostURL = strings.TrimSpace(v.GetString(KeyAPIHostURL))
	cfg.APIKey = strings.TrimSpace(v.GetString(KeyAPIKey))
	cfg.LabmateDataDir = strings.TrimSpace(v.GetString(KeyLabmateDataDir))

	var err error
	if cfg.VerifySSL, err = parseBool(KeyVerifySSL, v.GetString(KeyVerifySSL)); err != nil {
		return nil, err
	}
	if cfg.UniqueExperimentTitles, err = parseBool(KeyUniqueExperimentTitles, v.GetString(KeyUniqueExperimentTitles)); err != nil {
		return nil, err
	}
	if cfg.TeamID, err = parseTeamID(v.GetString(KeyTeamID)); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = parseTimeout(v.GetString(KeyRequestTimeout)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseBool accepts true/false in any case and nothing else.
func parseBool(key, raw string) (bool, error) {
	value := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(value, "true"):
		return true, nil
	case strings.EqualFold(value, "false"):
		return false, nil
	default:
		return false, errors.Newf(errors.ErrorTypeConfig, "%s must be true or false, got %q", key, raw)
	}
}

func parseTeamID(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(value)
	if err != nil || id <= 0 {
		return 0, errors.Newf(errors.ErrorTypeConfig, "%s must be a positive integer, got %q", KeyTeamID, raw)
	}
	return id, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, errors.Newf(errors.ErrorTypeConfig, "%s must be a positive duration, got %q", KeyRequestTimeout, raw)
	}
	return d, nil
}
