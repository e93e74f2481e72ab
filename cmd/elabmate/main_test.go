package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/ajitpratap0/elabmate/pkg/errors"
	"github.com/ajitpratap0/elabmate/pkg/testutil"
)

type cli struct {
	t      *testing.T
	env    *testutil.TestEnvironment
	config string
}

func newCLI(t *testing.T, extra ...string) *cli {
	env := testutil.NewTestEnvironment(t)
	return &cli{t: t, env: env, config: env.WriteConfigFile(extra...)}
}

// exec runs the command line with stdin and returns stdout and stderr.
func (c *cli) exec(stdin string, args ...string) (string, string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--config", c.config, "--log-level", "error"}, args...)
	err := run(c.env.Context(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func (c *cli) mustExec(args ...string) string {
	c.t.Helper()
	out, _, err := c.exec("", args...)
	require.NoError(c.t, err, "elabmate %s", strings.Join(args, " "))
	return out
}

func TestVersion(t *testing.T) {
	out := newCLI(t).mustExec("version")
	assert.Contains(t, out, "elabmate v"+version)
	assert.Contains(t, out, "OS/Arch:")
}

func TestConfig_Redacted(t *testing.T) {
	c := newCLI(t, "TEAM_ID=1")
	out := c.mustExec("config")

	assert.Contains(t, out, c.env.Server.APIURL())
	assert.Contains(t, out, "3-fa********")
	assert.Contains(t, out, "team_id: 1")
	assert.Contains(t, out, "request_timeout: 30s")
	assert.NotContains(t, out, testutil.FakeAPIKey)
}

func TestConfig_Missing(t *testing.T) {
	c := newCLI(t)
	c.config = filepath.Join(c.env.TempDir(), "missing.conf")

	_, _, err := c.exec("", "config")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestExperiment_CreateAndShow(t *testing.T) {
	c := newCLI(t)
	out := c.mustExec("experiment", "create", "Cooldown 12",
		"--category", "Measurement", "--status", "Running",
		"--body", "<p>base run</p>", "--tag", "cryo", "--tag", "fridge-2")

	id, err := strconv.Atoi(strings.TrimSpace(out))
	require.NoError(t, err)
	stored, ok := c.env.Server.Experiment(id)
	require.True(t, ok)
	assert.Equal(t, "Cooldown 12", stored.Title)
	assert.Equal(t, 1, stored.Category)
	assert.Equal(t, []string{"cryo", "fridge-2"}, stored.Tags)

	c.mustExec("exp", "step", "Cooldown 12", "pumped down")
	c.mustExec("exp", "comment", strconv.Itoa(id), "looks good")

	show := c.mustExec("experiment", "show", "Cooldown 12")
	assert.Contains(t, show, `"title": "Cooldown 12"`)
	assert.Contains(t, show, `"category": "Measurement"`)
	assert.Contains(t, show, `"pumped down"`)
	assert.Contains(t, show, `"looks good"`)
	assert.Contains(t, show, `"body": "<p>base run</p>"`)
}

func TestExperiment_FromTemplate(t *testing.T) {
	c := newCLI(t)
	out := c.mustExec("experiment", "create", "Cooldown 13", "--template", "Cooldown")

	id, err := strconv.Atoi(strings.TrimSpace(out))
	require.NoError(t, err)
	stored, _ := c.env.Server.Experiment(id)
	assert.Equal(t, "<p>Cooldown procedure</p>", stored.Body)

	_, _, err = c.exec("", "experiment", "create", "X", "--template", "Nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestExperiment_TextFromStdin(t *testing.T) {
	c := newCLI(t)
	id := c.env.Server.AddExperiment("Notes")

	_, _, err := c.exec("<p>from stdin</p>", "experiment", "text", strconv.Itoa(id), "-")
	require.NoError(t, err)

	stored, _ := c.env.Server.Experiment(id)
	assert.Equal(t, "<p>from stdin</p>", stored.Body)
}

func TestExperiment_Tags(t *testing.T) {
	c := newCLI(t)
	id := strconv.Itoa(c.env.Server.AddExperiment("Tagged"))

	out := c.mustExec("experiment", "tag", id, "a", "b", "a")
	assert.Equal(t, "a\nb\n", out)

	out = c.mustExec("experiment", "tag", id, "--remove", "a")
	assert.Equal(t, "b\n", out)

	_, _, err := c.exec("", "experiment", "tag", id, "--remove", "zzz")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	out = c.mustExec("experiment", "tag", id, "--clear", "c")
	assert.Equal(t, "c\n", out)
}

func TestExperiment_UploadDownloadFiles(t *testing.T) {
	c := newCLI(t)
	id := strconv.Itoa(c.env.Server.AddExperiment("Files"))
	src := c.env.WriteFile("data/scan.h5", []byte("payload"))

	assert.Equal(t, "scan.h5: created\n", c.mustExec("experiment", "upload", id, src))
	assert.Equal(t, "scan.h5: unchanged\n", c.mustExec("experiment", "upload", id, src))

	files := c.mustExec("experiment", "files", id)
	assert.Contains(t, files, "NAME")
	assert.Contains(t, files, "scan.h5")

	dest := filepath.Join(c.env.TempDir(), "restored", "scan.h5")
	assert.Equal(t, dest+"\n", c.mustExec("experiment", "download", id, "scan.h5", "-o", dest))
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	_, _, err = c.exec("", "experiment", "upload", id, filepath.Join(c.env.TempDir(), "missing.h5"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFileNotFound))
}

func TestExperiment_UnknownTitle(t *testing.T) {
	_, _, err := newCLI(t).exec("", "experiment", "show", "Nobody")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestLookups(t *testing.T) {
	c := newCLI(t)

	assert.Contains(t, c.mustExec("categories"), "Calibration")
	assert.Contains(t, c.mustExec("statuses"), "Success")
	assert.Contains(t, c.mustExec("templates"), "Cooldown")
}

func TestAuthenticationFailure(t *testing.T) {
	c := newCLI(t, "API_KEY=3-wrong")

	_, _, err := c.exec("", "categories")
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestWatch_RequiresDirectory(t *testing.T) {
	_, _, err := newCLI(t).exec("", "watch")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestTrace_ExportsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	c := newCLI(t)
	_, stderr, err := c.exec("", "--trace", "categories")
	require.NoError(t, err)
	assert.Contains(t, stderr, `"Name": "GET teams/{id}/experiments_categories"`)
}
