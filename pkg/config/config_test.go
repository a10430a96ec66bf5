package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsHaveConfigVersion(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 1, cfg.ConfigVersion)
	require.Equal(t, ModeSolid, cfg.Storage.DefaultMode)
}

func TestLoadMergesProjectFileOverDefaults(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".vrift"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".vrift", "config.toml"), []byte(`
config_version = 2

[storage]
the_source = "/custom/cas"
default_mode = "phantom"

[daemon]
socket = "/tmp/custom.sock"
enabled = true
`), 0644))

	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.ConfigVersion)
	require.Equal(t, "/custom/cas", cfg.Storage.TheSource)
	require.Equal(t, ModePhantom, cfg.Storage.DefaultMode)
	require.Equal(t, "/tmp/custom.sock", cfg.Daemon.Socket)
	require.Equal(t, root, cfg.Project.VFSPrefix)
}

func TestEnvVarsOverrideFiles(t *testing.T) {
	root := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VRIFT_SOCKET_PATH", "/tmp/env-override.sock")
	t.Setenv("VRIFT_THREADS", "8")

	cfg, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "/tmp/env-override.sock", cfg.Daemon.Socket)
	require.NotNil(t, cfg.Ingest.Threads)
	require.Equal(t, 8, *cfg.Ingest.Threads)
}

func TestMissingConfigFilesAreNotAnError(t *testing.T) {
	root := t.TempDir()
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, Defaults().Storage.TheSource, cfg.Storage.TheSource)
}

func TestClassifierTierAndExclude(t *testing.T) {
	cfg := Defaults()
	c := NewClassifier(cfg)

	require.Equal(t, Tier1, c.Tier("proj/target/debug/libfoo.so"))
	require.Equal(t, Tier2, c.Tier("src/main.go"))
	require.Equal(t, TierAuto, c.Tier("README.md"))
	require.True(t, c.Excluded("config/id_rsa"))
	require.False(t, c.Excluded("src/main.go"))
}
