package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelocantos/msh/internal/audit"
	mshcli "github.com/marcelocantos/msh/internal/cli"
)

type testApp struct {
	*app
	dir string
}

// newTestApp builds an app whose config lives in memory and whose
// descriptors are files under a temp dir.
func newTestApp(t *testing.T, configYAML string) *testApp {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/msh.yaml", []byte(configYAML), 0o600))

	dir := t.TempDir()
	stdin, err := os.Open(os.DevNull)
	require.NoError(t, err)
	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)
	t.Cleanup(func() {
		stdin.Close()
		stdout.Close()
		stderr.Close()
	})
	return &testApp{app: &app{fs: fs, stdin: stdin, stdout: stdout, stderr: stderr}, dir: dir}
}

func (a *testApp) runArgs(args ...string) int {
	argv := append([]string{"msh", "--config", "/msh.yaml"}, args...)
	if err := a.command().Run(context.Background(), argv); err != nil {
		return mshcli.ExitCode(a.stderr, err)
	}
	return a.status
}

func (a *testApp) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(a.dir, name))
	require.NoError(t, err)
	return string(data)
}

const quietConfig = `
startup:
  enabled: false
audit:
  enabled: false
color: false
`

func TestAppSetup(t *testing.T) {
	a := newTestApp(t, quietConfig)
	cmd := a.command()
	assert.Equal(t, "msh", cmd.Name)

	var flags []string
	for _, f := range cmd.Flags {
		flags = append(flags, f.Names()[0])
	}
	assert.Equal(t, []string{"config", "command", "norc", "debug", "print-table"}, flags)
	require.Len(t, cmd.Commands, 1)
	assert.Equal(t, "audit", cmd.Commands[0].Name)
}

func TestCommandStatus(t *testing.T) {
	a := newTestApp(t, quietConfig)
	assert.Equal(t, 1, a.runArgs("-c", "false"))

	a = newTestApp(t, quietConfig)
	assert.Equal(t, 0, a.runArgs("--command", "true | true"))

	a = newTestApp(t, quietConfig)
	assert.Equal(t, 1, a.runArgs("-c", "true; false"))
}

func TestCommandOutput(t *testing.T) {
	a := newTestApp(t, quietConfig)
	assert.Equal(t, 1, a.runArgs("-c", "echo hello; msh-test-no-such-program"))
	assert.Equal(t, "hello\n", a.read(t, "stdout"))
	assert.Contains(t, a.read(t, "stderr"), "msh-test-no-such-program: cannot execute")
}

func TestCommandExit(t *testing.T) {
	a := newTestApp(t, quietConfig)
	assert.Equal(t, 0, a.runArgs("-c", "false; exit; false"))
	assert.Equal(t, "Good Bye!!\n", a.read(t, "stdout"))
}

func TestStartupFile(t *testing.T) {
	t.Setenv("MSH_MAIN_RC", "")
	a := newTestApp(t, `
startup:
  enabled: true
  path: /rc
audit:
  enabled: false
`)
	require.NoError(t, afero.WriteFile(a.fs, "/rc", []byte("setenv MSH_MAIN_RC yes\n"), 0o600))

	assert.Equal(t, 0, a.runArgs("--norc", "-c", "true"))
	assert.Equal(t, "", os.Getenv("MSH_MAIN_RC"))

	assert.Equal(t, 0, a.runArgs("-c", "true"))
	assert.Equal(t, "yes", os.Getenv("MSH_MAIN_RC"))
}

func TestUnexpectedArgument(t *testing.T) {
	a := newTestApp(t, quietConfig)
	assert.Equal(t, 2, a.runArgs("script.msh"))
	assert.Contains(t, a.read(t, "stderr"), `msh: unexpected argument "script.msh"`)
}

func TestInvalidConfig(t *testing.T) {
	a := newTestApp(t, "history:\n  limit: -1\n")
	assert.Equal(t, 2, a.runArgs("-c", "true"))
	assert.Contains(t, a.read(t, "stderr"), "invalid config")
}

func TestAuditCommands(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "journal.jsonl")
	cfg := "startup:\n  enabled: false\naudit:\n  enabled: true\n  path: " + journal + "\n"

	a := newTestApp(t, cfg)
	require.Equal(t, 1, a.runArgs("-c", "true; false"))

	a = newTestApp(t, cfg)
	assert.Equal(t, 0, a.runArgs("audit", "verify"))
	assert.Equal(t, "journal integrity verified\n", a.read(t, "stdout"))

	a = newTestApp(t, cfg)
	assert.Equal(t, 0, a.runArgs("audit", "tail", "-n", "1"))
	out := a.read(t, "stdout")
	assert.Contains(t, out, `"pipeline": "false"`)
	assert.NotContains(t, out, `"pipeline": "true"`)

	entries, err := audit.Tail(journal, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
