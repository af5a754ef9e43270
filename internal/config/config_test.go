package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the search paths at an empty temp dir and resets the
// package state when the test ends.
func isolate(t *testing.T) string {
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
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		SetConfigPath("")
		Set(nil)
	})
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInit(t *testing.T) {
	t.Run("defaults when no config exists", func(t *testing.T) {
		isolate(t)
		require.NoError(t, Init())
		assert.Equal(t, DefaultConfig, *Get())
	})

	t.Run("explicit config file", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "custom.toml")
		writeFile(t, path, `
[engine]
pointer_emulation = false
touch_history_size = 32
max_resources = 64
xi2_minor_version = 2

[trace]
enabled = true
path = "/tmp/out.trace"

[replay]
stop_on_failure = false
`)
		SetConfigPath(path)
		require.NoError(t, Init())

		c := Get()
		assert.False(t, c.Engine.PointerEmulation)
		assert.Equal(t, 32, c.Engine.TouchHistorySize)
		assert.Equal(t, 5, c.Engine.InitialSlots)
		assert.Equal(t, 64, c.Engine.MaxResources)
		assert.Equal(t, 2, c.Engine.XI2MinorVersion)
		assert.True(t, c.Trace.Enabled)
		assert.Equal(t, "/tmp/out.trace", c.Trace.Path)
		assert.False(t, c.Replay.StopOnFailure)
		assert.Equal(t, path, GetConfigPath())
	})

	t.Run("config in the working directory", func(t *testing.T) {
		dir := isolate(t)
		writeFile(t, filepath.Join(dir, "grabarbiter.toml"), "[logging]\nlog_level = \"warn\"\n")
		require.NoError(t, Init())
		assert.Equal(t, "warn", Get().Logging.LogLevel)
	})

	t.Run("invalid toml", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "broken.toml")
		writeFile(t, path, "[engine\npointer_emulation = true")
		SetConfigPath(path)
		assert.Error(t, Init())
	})

	t.Run("invalid values", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "bad.toml")
		writeFile(t, path, "[engine]\ntouch_history_size = 0\n")
		SetConfigPath(path)
		err := Init()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "touch_history_size")
	})
}

func TestEnvironment(t *testing.T) {
	t.Run("variables override the file", func(t *testing.T) {
		isolate(t)
		t.Setenv("GRABARBITER_ENGINE_POINTER_EMULATION", "false")
		t.Setenv("GRABARBITER_ENGINE_MAX_RESOURCES", "10")
		require.NoError(t, Init())
		assert.False(t, Get().Engine.PointerEmulation)
		assert.Equal(t, 10, Get().Engine.MaxResources)
	})

	t.Run("dotenv file", func(t *testing.T) {
		dir := isolate(t)
		const key = "GRABARBITER_LOGGING_LOG_LEVEL"
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() { os.Unsetenv(key) })
		writeFile(t, filepath.Join(dir, ".env"), key+"=debug\n")

		require.NoError(t, Init())
		assert.Equal(t, "debug", Get().Logging.LogLevel)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "no history", modify: func(c *Config) { c.Engine.TouchHistorySize = -1 }, wantErr: "touch_history_size"},
		{name: "no slots", modify: func(c *Config) { c.Engine.InitialSlots = 0 }, wantErr: "initial_touch_slots"},
		{name: "negative resources", modify: func(c *Config) { c.Engine.MaxResources = -1 }, wantErr: "max_resources"},
		{name: "future minor", modify: func(c *Config) { c.Engine.XI2MinorVersion = 5 }, wantErr: "xi2_minor_version"},
		{name: "trace without path", modify: func(c *Config) { c.Trace = TraceConfig{Enabled: true} }, wantErr: "trace.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEngineOptions(t *testing.T) {
	e := EngineConfig{
		PointerEmulation: false,
		TouchHistorySize: 7,
		InitialSlots:     3,
		MaxResources:     50,
		XI2MinorVersion:  3,
	}
	opts := e.Options()
	assert.False(t, opts.Touch.PointerEmulation)
	assert.Equal(t, 7, opts.Touch.HistorySize)
	assert.Equal(t, 3, opts.Touch.InitialSlots)
	assert.Equal(t, 50, opts.MaxResources)
	assert.Equal(t, uint16(3), opts.XI2Minor)
}

func TestConfigPathResolution(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		isolate(t)
		SetConfigPath("/tmp/x.toml")
		assert.Equal(t, "/tmp/x.toml", GetConfigPath())
	})

	t.Run("normal user", func(t *testing.T) {
		isolate(t)
		if os.Getuid() == 0 {
			t.Skip("running as root")
		}
		t.Setenv("HOME", "/home/testuser")
		assert.Equal(t, "/home/testuser/.config/grabarbiter/grabarbiter.toml", GetConfigPath())
	})

	t.Run("running with sudo", func(t *testing.T) {
		isolate(t)
		t.Setenv("SUDO_USER", "testuser")
		assert.Equal(t, "/etc/grabarbiter/grabarbiter.toml", GetConfigPath())
	})
}

func TestSaveAndReload(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "grabarbiter.toml")

	c := DefaultConfig
	c.Engine.MaxResources = 99
	c.Logging.LogLevel = "error"
	c.Replay.Interactive = true
	Set(&c)
	require.NoError(t, SaveTo(path))
	require.FileExists(t, path)

	viper.Reset()
	Set(nil)
	SetConfigPath(path)
	require.NoError(t, Init())
	assert.Equal(t, c, *Get())
}
