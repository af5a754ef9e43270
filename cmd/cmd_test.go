package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingScenario = `
name: wrong owner
devices:
  - {id: 2, use: master-pointer, attached: 3, buttons: true}
  - {id: 3, use: master-keyboard, attached: 2, keys: true}
windows:
  - {id: 0x100, width: 1000, height: 1000}
steps:
  - do: grab-device
    client: 1
    device: 2
    window: 0x100
  - do: expect
    expect:
      grabs: [{device: 2, client: 2}]
  - do: ungrab-device
    client: 1
    device: 2
`

// execute runs the root command in a scratch directory with flags back
// at their defaults.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, c := range []*cobra.Command{rootCmd, replayCmd, traceDumpCmd, configInitCmd} {
		resetFlags(c.Flags())
		resetFlags(c.PersistentFlags())
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func scratch(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	t.Setenv("SUDO_USER", "")
	return dir
}

func testdata(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "internal", "scenario", "testdata", name))
	require.NoError(t, err)
	return path
}

func TestVersion(t *testing.T) {
	scratch(t)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "grabarbiter "+Version)
}

func TestReplay(t *testing.T) {
	replayYAML := testdata(t, "replay.yaml")
	touchYAML := testdata(t, "touch.yaml")

	t.Run("passing scenarios", func(t *testing.T) {
		scratch(t)
		t.Setenv("GRABARBITER_ENGINE_POINTER_EMULATION", "false")
		out, err := execute(t, "replay", replayYAML, touchYAML)
		require.NoError(t, err, out)
		assert.Contains(t, out, "replay a sync button grab")
		assert.Contains(t, out, "touch grab accepted over a selection")
		assert.Contains(t, out, "all expectations met")
	})

	t.Run("verbose prints each step", func(t *testing.T) {
		scratch(t)
		out, err := execute(t, "replay", "-v", replayYAML)
		require.NoError(t, err, out)
		assert.Contains(t, out, "grab-button")
		assert.Contains(t, out, "ButtonRelease to client 2")
	})

	t.Run("failing scenario", func(t *testing.T) {
		dir := scratch(t)
		path := filepath.Join(dir, "fail.yaml")
		require.NoError(t, os.WriteFile(path, []byte(failingScenario), 0o644))

		out, err := execute(t, "replay", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 1 scenarios failed")
		assert.Contains(t, out, "want 2")
	})

	t.Run("missing file", func(t *testing.T) {
		scratch(t)
		_, err := execute(t, "replay", "nope.yaml")
		assert.Error(t, err)
	})
}

func TestRecordAndDump(t *testing.T) {
	replayYAML := testdata(t, "replay.yaml")
	dir := scratch(t)
	tracePath := filepath.Join(dir, "out.trace")

	out, err := execute(t, "replay", "--record", "--trace", tracePath, replayYAML)
	require.NoError(t, err, out)
	require.FileExists(t, tracePath)

	out, err = execute(t, "trace", "dump", tracePath)
	require.NoError(t, err)
	assert.Contains(t, out, "ButtonPress to client 1")
	assert.Contains(t, out, "ButtonPress to client 2")
	assert.Contains(t, out, "ButtonRelease to client 2")

	out, err = execute(t, "trace", "dump", "--client", "1", tracePath)
	require.NoError(t, err)
	assert.Contains(t, out, "ButtonPress to client 1")
	assert.NotContains(t, out, "client 2")
}

// Runs last: viper keeps an explicit config file for the process.
func TestConfigCommands(t *testing.T) {
	dir := scratch(t)
	path := filepath.Join(dir, "conf", "grabarbiter.toml")

	_, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	require.FileExists(t, path)

	_, err = execute(t, "config", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", "--force", "--config", path)
	require.NoError(t, err)

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "touch_history_size")
	assert.Contains(t, out, "stop_on_failure")
}
