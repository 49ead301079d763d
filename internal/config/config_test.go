package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7350", cfg.BaseURL())
	assert.Equal(t, "ws://127.0.0.1:7350/ws", cfg.SocketURL())
	assert.Equal(t, "defaultkey", cfg.ServerKey)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TTT_HOST", "game.example.com")
	t.Setenv("TTT_PORT", "443")
	t.Setenv("TTT_USE_SSL", "true")
	t.Setenv("TTT_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://game.example.com:443", cfg.BaseURL())
	assert.Equal(t, "wss://game.example.com:443/ws", cfg.SocketURL())
	assert.True(t, cfg.Debug)
}

func TestLoad_BadPort(t *testing.T) {
	t.Setenv("TTT_PORT", "not-a-port")
	_, err := Load()
	assert.Error(t, err)
}
