package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/restorr/internal/config"
)

func TestDumpConfig_Defaults(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, dumpConfig(&buf, cfg))

	var out map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))

	assert.Equal(t, "15m0s", out["session"]["ttl"])
	assert.Equal(t, "10m0s", out["ffmpeg"]["timeout"])
	assert.Equal(t, "200 MiB", out["server"]["max_upload_size"])
	assert.Equal(t, 10, out["admission"]["max_concurrent"])
	assert.Equal(t, "sqlite", out["database"]["driver"])
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Contains(t, buf.String(), "restorr version")
}
