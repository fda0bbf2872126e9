package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir()) // カレントディレクトリの .env を読まない

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	t.Setenv("APP_NAME", "Todo API")
	t.Setenv("APP_VERSION", "1.2.3")

	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "Todo API 1.2.3\n", out)
}

func TestVersionCmd_LinkerVersionWins(t *testing.T) {
	t.Setenv("APP_VERSION", "1.2.3")
	old := version
	version = "v9.0.0"
	t.Cleanup(func() { version = old })

	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "v9.0.0")
}

func TestVersionCmd_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.toml")
	require.NoError(t, os.WriteFile(path, []byte("app_name = \"From File\"\napp_version = \"0.0.7\"\n"), 0o600))

	out, err := runCmd(t, "--config", path, "version")
	require.NoError(t, err)
	assert.Equal(t, "From File 0.0.7\n", out)
}

func TestInitTableCmd_MissingConfigFile(t *testing.T) {
	_, err := runCmd(t, "init-table", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "missing.toml")
}

func TestServeCmd_RejectsArgs(t *testing.T) {
	_, err := runCmd(t, "serve", "extra")
	assert.Error(t, err)
}

func TestRootCmd_Commands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "init-table", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
