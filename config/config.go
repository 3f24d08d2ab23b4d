// Package config loads server and client settings from a YAML file.
package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	yaml "gopkg.in/yaml.v2"

	"muxrpc/client"
	"muxrpc/codec"
	"muxrpc/middleware"
	"muxrpc/server"
)

type Config struct {
	LogLevel         string       `yaml:"log_level"`
	MetricsNamespace string       `yaml:"metrics_namespace"`
	Server           ServerConfig `yaml:"server"`
	Client           ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Listen             string        `yaml:"listen"`      // raw frame protocol over TCP
	HTTPListen         string        `yaml:"http_listen"` // websocket RPC, /metrics, /healthz; empty disables
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	HandlerTimeout     time.Duration `yaml:"handler_timeout"`
	MaxBodyLen         uint32        `yaml:"max_body_len"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	RateLimit          float64       `yaml:"rate_limit"` // calls per second; 0 disables
	RateBurst          int           `yaml:"rate_burst"`
}

type ClientConfig struct {
	Address     string        `yaml:"address"`
	Codec       string        `yaml:"codec"`
	Compression bool          `yaml:"compression"`
	Timeout     time.Duration `yaml:"timeout"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

func Default() *Config {
	return &Config{
		LogLevel:         "info",
		MetricsNamespace: "muxrpc",
		Server: ServerConfig{
			Listen:             ":7070",
			HTTPListen:         ":7071",
			MaxConcurrentCalls: server.DefaultMaxConcurrentCalls,
			IdleTimeout:        2 * time.Minute,
			ShutdownTimeout:    10 * time.Second,
		},
		Client: ClientConfig{
			Address:   "127.0.0.1:7070",
			Codec:     "json",
			Timeout:   5 * time.Second,
			Heartbeat: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults and validates the result. Unknown keys
// are an error.
func Load(path string) (*Config, error) {
	bytes, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	cfg := Default()
	if err := yaml.UnmarshalStrict(bytes, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Server.MaxConcurrentCalls < 0 {
		return errors.Errorf("server.max_concurrent_calls must not be negative, got %d", c.Server.MaxConcurrentCalls)
	}
	if c.Server.IdleTimeout < 0 || c.Server.HandlerTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}
	if c.Server.RateLimit < 0 {
		return errors.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be at least 1 when rate_limit is set")
	}
	if _, err := codec.ParseType(c.Client.Codec); err != nil {
		return err
	}
	if c.Client.Timeout < 0 || c.Client.Heartbeat < 0 {
		return errors.New("client timeouts must not be negative")
	}
	return nil
}

func (c *Config) Level() (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, errors.Wrapf(err, "log_level")
	}
	return level, nil
}

// ServerOptions converts the server section into options. Logger and metrics
// are supplied by the caller.
func (c *Config) ServerOptions() []server.Option {
	s := c.Server
	opts := []server.Option{
		server.WithMaxConcurrentCalls(s.MaxConcurrentCalls),
		server.WithIdleTimeout(s.IdleTimeout),
		server.WithHandlerTimeout(s.HandlerTimeout),
	}
	if s.MaxBodyLen > 0 {
		opts = append(opts, server.WithMaxBodyLen(s.MaxBodyLen))
	}
	return opts
}

// Middlewares returns the configured middlewares in installation order.
func (c *Config) Middlewares(logger *zap.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.Logging(logger)}
	if c.Server.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(c.Server.RateLimit, c.Server.RateBurst))
	}
	return mws
}

// ClientOptions converts the client section into options. The codec name
// must have passed Validate.
func (c *Config) ClientOptions() []client.Option {
	cl := c.Client
	codecType, _ := codec.ParseType(cl.Codec)
	return []client.Option{
		client.WithCodec(codecType),
		client.WithCompression(cl.Compression),
		client.WithTimeout(cl.Timeout),
		client.WithHeartbeat(cl.Heartbeat),
	}
}
