package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defektu/oscquery/osc"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Zero(t, cfg.Metrics.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	payload := `{
		"service": {
			"httpPort": 8765,
			"serviceName": "Studio Desk",
			"oscTransport": "UDP",
			"broadcast": true
		},
		"log": {"level": "debug", "format": "text"},
		"metrics": {"port": 9100},
		"methods": [
			{"path": "/mixer/level", "type": "f", "access": 3, "description": "main level"}
		]
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	opts := cfg.ServerOptions()
	assert.Equal(t, 8765, opts.HTTPPort)
	assert.Equal(t, "Studio Desk", opts.ServiceName)
	assert.True(t, opts.Broadcast)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path, "defaults survive partial files")

	require.Len(t, cfg.Methods, 1)
	treeOpts := cfg.Methods[0].TreeOpts()
	require.Len(t, treeOpts.Arguments, 1)
	assert.Equal(t, osc.TypeFloat, treeOpts.Arguments[0].Type.Simple)
	require.NotNil(t, treeOpts.Access)
	assert.Equal(t, 3, int(*treeOpts.Access))
	require.NotNil(t, treeOpts.Description)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_BadMethodPath(t *testing.T) {
	cfg := Default()
	cfg.Methods = []MethodConfig{{Path: "no-slash", Type: "i"}}
	require.Error(t, cfg.Validate())
}

func TestValidate_BadPort(t *testing.T) {
	cfg := Default()
	cfg.Service.HTTPPort = 99999
	require.Error(t, cfg.Validate())
}
