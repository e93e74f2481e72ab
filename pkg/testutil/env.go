package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/elabmate/pkg/config"
)

// TestEnvironment bundles a fake server, a temp directory and a context.
type TestEnvironment struct {
	t       *testing.T
	ctx     context.Context
	tempDir string

	Server *ElabServer
}

// NewTestEnvironment creates a new test environment torn down with the test.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	return &TestEnvironment{
		t:       t,
		ctx:     TestContext(t),
		tempDir: t.TempDir(),
		Server:  NewElabServer(t),
	}
}

// Context returns the test context
func (e *TestEnvironment) Context() context.Context {
	return e.ctx
}

// TempDir returns the temporary directory
func (e *TestEnvironment) TempDir() string {
	return e.tempDir
}

// Config returns a configuration pointing at the fake server.
func (e *TestEnvironment) Config() *config.Config {
	return e.Server.Config()
}

// WriteFile creates a file below the temp directory, parents included.
func (e *TestEnvironment) WriteFile(name string, content []byte) string {
	e.t.Helper()

	path := filepath.Join(e.tempDir, name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, content, 0o600))
	return path
}

// WriteConfigFile writes an elab_server.conf for the fake server plus any
// extra KEY=VALUE lines and returns its path.
func (e *TestEnvironment) WriteConfigFile(extra ...string) string {
	e.t.Helper()

	lines := []string{
		"# test server",
		fmt.Sprintf("%s=%s", config.KeyAPIHostURL, e.Server.APIURL()),
		fmt.Sprintf("%s=%s", config.KeyAPIKey, FakeAPIKey),
	}
	lines = append(lines, extra...)
	return e.WriteFile(config.DefaultFileName, []byte(strings.Join(lines, "\n")+"\n"))
}
