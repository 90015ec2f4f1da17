package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Worker config
	assert.Equal(t, "../build", cfg.Worker.BuildRoot)
	assert.Equal(t, "debug", cfg.Worker.Configuration)
	assert.Equal(t, "xsnap-worker", cfg.Worker.Name)
	assert.Equal(t, StdioInherit, cfg.Worker.Stdio)
	assert.Empty(t, cfg.Worker.Executable)

	// Protocol config
	assert.Equal(t, 999999999, cfg.Protocol.MaxFrameSize)

	// Session config
	assert.Equal(t, 10*time.Second, cfg.Session.CompletionTimeout.Std())
	assert.Equal(t, StopOnAny, cfg.Session.StopOn)

	// Artifact config
	assert.Equal(t, "./test.cpuprofile", cfg.Artifact.Path)
	assert.Equal(t, 10, cfg.Artifact.TopHits)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Status config
	assert.Empty(t, cfg.Status.Addr)
	assert.Equal(t, []string{"*"}, cfg.Status.AllowOrigins)
	assert.Equal(t, 20.0, cfg.Status.RequestsPerSecond)
	assert.Equal(t, 40, cfg.Status.Burst)

	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"XSBUG_WORKER":             "/opt/xs/xsnap-worker",
		"XSBUG_BUILD_ROOT":         "/opt/xs/build",
		"XSBUG_BUILD_CONFIG":       "release",
		"XSBUG_WORKER_ARGS":        "-l,1000",
		"XSBUG_STDIO":              "pty",
		"XSBUG_MAX_FRAME_SIZE":     "4096",
		"XSBUG_COMPLETION_TIMEOUT": "250ms",
		"XSBUG_STOP_ON":            "reply",
		"XSBUG_ARTIFACT":           "out.cpuprofile.gz",
		"XSBUG_TOP_HITS":           "3",
		"XSBUG_STATUS_ADDR":        "127.0.0.1:9100",
		"XSBUG_STATUS_ORIGINS":     "http://a.local,http://b.local",
		"XSBUG_STATUS_RPS":         "2.5",
		"LOG_LEVEL":                "debug",
		"LOG_DEV":                  "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/opt/xs/xsnap-worker", cfg.Worker.Executable)
	assert.Equal(t, "/opt/xs/build", cfg.Worker.BuildRoot)
	assert.Equal(t, "release", cfg.Worker.Configuration)
	assert.Equal(t, []string{"-l", "1000"}, cfg.Worker.Args)
	assert.Equal(t, StdioPTY, cfg.Worker.Stdio)
	assert.Equal(t, 4096, cfg.Protocol.MaxFrameSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.CompletionTimeout.Std())
	assert.Equal(t, StopOnReply, cfg.Session.StopOn)
	assert.Equal(t, "out.cpuprofile.gz", cfg.Artifact.Path)
	assert.Equal(t, 3, cfg.Artifact.TopHits)
	assert.Equal(t, "127.0.0.1:9100", cfg.Status.Addr)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.Status.AllowOrigins)
	assert.Equal(t, 2.5, cfg.Status.RequestsPerSecond)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("XSBUG_STOP_ON", "sometimes")
	_, err := Load()
	assert.Error(t, err)

	// LoadOrDefault falls back
	cfg := LoadOrDefault()
	assert.Equal(t, StopOnAny, cfg.Session.StopOn)
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xsbug.yaml")
	content := `
worker:
  executable: ./bin/xsnap-worker
  args: ["-i", "10"]
  stdio: discard
session:
  completion_timeout: 3s
  stop_on: reply
artifact:
  path: profile.json.zst
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "./bin/xsnap-worker", cfg.Worker.Executable)
	assert.Equal(t, []string{"-i", "10"}, cfg.Worker.Args)
	assert.Equal(t, StdioDiscard, cfg.Worker.Stdio)
	assert.Equal(t, 3*time.Second, cfg.Session.CompletionTimeout.Std())
	assert.Equal(t, StopOnReply, cfg.Session.StopOn)
	assert.Equal(t, "profile.json.zst", cfg.Artifact.Path)

	// untouched sections keep their defaults
	assert.Equal(t, "debug", cfg.Worker.Configuration)
	assert.Equal(t, 999999999, cfg.Protocol.MaxFrameSize)
}

func TestLoadFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xsbug.toml")
	content := `
[worker]
build_root = "/srv/xs/build"
configuration = "release"

[protocol]
max_frame_size = 65536

[session]
completion_timeout = "1m"

[logging]
level = "warn"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/xs/build", cfg.Worker.BuildRoot)
	assert.Equal(t, "release", cfg.Worker.Configuration)
	assert.Equal(t, 65536, cfg.Protocol.MaxFrameSize)
	assert.Equal(t, time.Minute, cfg.Session.CompletionTimeout.Std())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "xsbug.ini")
	require.NoError(t, os.WriteFile(ini, []byte("a=b"), 0o644))
	_, err = LoadFile(ini)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("session:\n  completion_timeout: soon\n"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("fast")))
}
