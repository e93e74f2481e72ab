package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/elabmate/pkg/errors"
)

const minimalConf = `API_HOST_URL=https://elab.example.org/api/v2
API_KEY=3-secretkey
`

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConf(t, `# eLabFTW server
API_HOST_URL = https://elab.example.org/api/v2
API_KEY=3-secretkey

VERIFY_SSL=False
UNIQUE_EXPERIMENTS_TITLES=TRUE
TEAM_ID=4
LABMATE_DATA_DIR=/data/labmate
REQUEST_TIMEOUT=5s
CUSTOM_KEY=kept
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://elab.example.org/api/v2", cfg.APIHostURL)
	assert.Equal(t, "3-secretkey", cfg.APIKey)
	assert.False(t, cfg.VerifySSL)
	assert.True(t, cfg.UniqueExperimentTitles)
	assert.Equal(t, 4, cfg.TeamID)
	assert.True(t, cfg.HasTeamID())
	assert.Equal(t, "/data/labmate", cfg.LabmateDataDir)
	assert.True(t, cfg.LabmateEnabled())
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "kept", cfg.Raw["CUSTOM_KEY"])
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalConf))
	require.NoError(t, err)

	assert.True(t, cfg.VerifySSL)
	assert.False(t, cfg.UniqueExperimentTitles)
	assert.Equal(t, 0, cfg.TeamID)
	assert.False(t, cfg.HasTeamID())
	assert.False(t, cfg.LabmateEnabled())
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
}

func TestParse_BooleanCase(t *testing.T) {
	for _, value := range []string{"true", "True", "TRUE", "tRuE"} {
		cfg, err := Parse(strings.NewReader(minimalConf + "UNIQUE_EXPERIMENTS_TITLES=" + value + "\n"))
		require.NoError(t, err, value)
		assert.True(t, cfg.UniqueExperimentTitles, value)
	}
	for _, value := range []string{"false", "False", "FALSE"} {
		cfg, err := Parse(strings.NewReader(minimalConf + "VERIFY_SSL=" + value + "\n"))
		require.NoError(t, err, value)
		assert.False(t, cfg.VerifySSL, value)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "missing host",
			content: "API_KEY=abc\n",
			wantMsg: KeyAPIHostURL,
		},
		{
			name:    "missing key",
			content: "API_HOST_URL=https://elab.example.org/api/v2\n",
			wantMsg: KeyAPIKey,
		},
		{
			name:    "empty key value",
			content: "API_HOST_URL=https://elab.example.org/api/v2\nAPI_KEY=\n",
			wantMsg: KeyAPIKey,
		},
		{
			name:    "relative host",
			content: "API_HOST_URL=elab.example.org\nAPI_KEY=abc\n",
			wantMsg: KeyAPIHostURL,
		},
		{
			name:    "invalid boolean",
			content: minimalConf + "VERIFY_SSL=yes\n",
			wantMsg: KeyVerifySSL,
		},
		{
			name:    "invalid team id",
			content: minimalConf + "TEAM_ID=abc\n",
			wantMsg: KeyTeamID,
		},
		{
			name:    "negative team id",
			content: minimalConf + "TEAM_ID=-1\n",
			wantMsg: KeyTeamID,
		},
		{
			name:    "invalid timeout",
			content: minimalConf + "REQUEST_TIMEOUT=soon\n",
			wantMsg: KeyRequestTimeout,
		},
		{
			name:    "line without separator",
			content: minimalConf + "JUST_A_WORD\n",
			wantMsg: "line 3",
		},
		{
			name:    "invalid key characters",
			content: "API HOST=x\n" + minimalConf,
			wantMsg: "line 1",
		},
		{
			name:    "lower-case key",
			content: "api_host_url=https://elab.example.org/api/v2\nAPI_KEY=abc\n",
			wantMsg: "line 1",
		},
		{
			name:    "mixed-case key",
			content: minimalConf + "Team_Id=4\n",
			wantMsg: "line 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(strings.NewReader(tt.content))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParse_LastDuplicateWins(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalConf + "API_KEY=second\n"))
	require.NoError(t, err)
	assert.Equal(t, "second", cfg.APIKey)
}

func TestParse_ValueMayContainSeparator(t *testing.T) {
	cfg, err := Parse(strings.NewReader("API_HOST_URL=https://elab.example.org/api/v2?a=b\nAPI_KEY=k=v\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://elab.example.org/api/v2?a=b", cfg.APIHostURL)
	assert.Equal(t, "k=v", cfg.APIKey)
}

func TestParse_ByteOrderMark(t *testing.T) {
	cfg, err := Parse(strings.NewReader("\ufeff" + minimalConf))
	require.NoError(t, err)
	assert.Equal(t, "https://elab.example.org/api/v2", cfg.APIHostURL)
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ELAB_TEAM_ID", "9")
	t.Setenv("ELAB_API_KEY", "from-env")

	cfg, err := Parse(strings.NewReader(minimalConf + "TEAM_ID=2\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.TeamID)
	assert.Equal(t, "from-env", cfg.APIKey)
	// Raw reflects the file only.
	assert.Equal(t, "2", cfg.Raw[KeyTeamID])
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.conf")

	cfg, err := Load(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_Programmatic(t *testing.T) {
	cfg := Default()
	cfg.APIHostURL = "http://localhost:3148/api/v2"
	cfg.APIKey = "abc"
	assert.NoError(t, cfg.Validate())

	cfg.RequestTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "3-0123456789"
	cfg.Raw["API_KEY"] = cfg.APIKey

	out := cfg.Redacted()
	assert.Equal(t, "3-01********", out.APIKey)
	assert.Nil(t, out.Raw)
	// the original is untouched
	assert.Equal(t, "3-0123456789", cfg.APIKey)

	cfg.APIKey = "abc"
	assert.Equal(t, "****", cfg.Redacted().APIKey)
}
