package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/testutil"
)

const testConfig = `
rules:
  - dir: /
    disk: web
    excludes: "*.tmp"
  - file: /VERSION
    disk: VERSION
  - archive: /lib/core.jar
    rules:
      - dir: /
        disk: core
`

// project writes a configuration and the files it maps into a temporary
// directory and returns the configuration path.
func project(t *testing.T) string {
	t.Helper()
	h := testutil.NewRealFSTestHelper(t)
	h.Write(testutil.Tree{
		"loose.yaml":      testConfig,
		"web/index.html":  "<html/>",
		"web/css/a.css":   "body{}",
		"web/draft.tmp":   "draft",
		"VERSION":         "1.0",
		"core/Main.class": "main",
	})
	return h.Path("loose.yaml")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmdSetup(t *testing.T) {
	root := newRootCommand()

	assert.Equal(t, "loosevfs", root.Use)

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"version", "ls", "cat", "stat", "urls", "watch"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config", "log-level", "verbose", "poll", "cache-dir"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "loosevfs version dev (commit: none, built: unknown)\n", out)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv(envConfig, project(t))

	out, err := execute(t, "cat", "/VERSION")
	require.NoError(t, err)
	assert.Equal(t, "1.0", out)
}

func TestMissingConfig(t *testing.T) {
	t.Setenv(envConfig, "")

	_, err := execute(t, "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration file")
}

func TestBadConfig(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("rules:\n  - dir: /\n"), 0o644))

	_, err := execute(t, "ls", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "ls", "--config", project(t), "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
