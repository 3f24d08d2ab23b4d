package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const configFileBody = `
log_level: debug
server:
  listen: 127.0.0.1:9000
  idle_timeout: 30s
  handler_timeout: 2s
  rate_limit: 100
  rate_burst: 10
client:
  codec: proto
  timeout: 250ms
`

func writeConfig(t *testing.T, body string) string {
	dir, err := ioutil.TempDir("", "muxrpc-config")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "muxrpc.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, configFileBody))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.Server.HandlerTimeout)
	assert.Equal(t, "proto", cfg.Client.Codec)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.Timeout)

	// Unset keys keep their defaults.
	assert.Equal(t, ":7071", cfg.Server.HTTPListen)
	assert.Equal(t, 30*time.Second, cfg.Client.Heartbeat)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level)

	assert.Len(t, cfg.ServerOptions(), 3)
	assert.Len(t, cfg.ClientOptions(), 4)
	assert.Len(t, cfg.Middlewares(zap.NewNop()), 2)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  listn: :9000\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(os.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"bad level":      func(c *Config) { c.LogLevel = "loud" },
		"bad codec":      func(c *Config) { c.Client.Codec = "xml" },
		"negative calls": func(c *Config) { c.Server.MaxConcurrentCalls = -1 },
		"rate no burst":  func(c *Config) { c.Server.RateLimit = 5 },
		"negative idle":  func(c *Config) { c.Server.IdleTimeout = -time.Second },
		"negative rate":  func(c *Config) { c.Server.RateLimit = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
	assert.Len(t, Default().Middlewares(zap.NewNop()), 1)
}
