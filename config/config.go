// Package config loads the daemon configuration file for oscqueryd.
package config

import (
	"encoding/json"
	"os"

	"github.com/defektu/oscquery/errors"
	"github.com/defektu/oscquery/osc"
	"github.com/defektu/oscquery/server"
	"github.com/defektu/oscquery/tree"
)

// Config is the on-disk daemon configuration.
type Config struct {
	Service ServiceConfig `json:"service"`
	Log     LogConfig     `json:"log"`
	Metrics MetricsConfig `json:"metrics"`
	// Methods pre-populates the tree at startup.
	Methods []MethodConfig `json:"methods,omitempty"`
}

// ServiceConfig mirrors the server options.
type ServiceConfig struct {
	HTTPPort         int    `json:"httpPort"`
	BindAddress      string `json:"bindAddress"`
	RootDescription  string `json:"rootDescription"`
	OSCQueryHostName string `json:"oscQueryHostName"`
	OSCIP            string `json:"oscIp"`
	OSCPort          int    `json:"oscPort"`
	OSCTransport     string `json:"oscTransport"`
	ServiceName      string `json:"serviceName"`
	WSIP             string `json:"wsIp"`
	WSPort           int    `json:"wsPort"`
	Broadcast        bool   `json:"broadcast"`
	DisableMDNS      bool   `json:"disableMdns"`
}

// LogConfig controls the daemon logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig controls the Prometheus endpoint; port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// MethodConfig declares one method to create at startup.
type MethodConfig struct {
	Path        string   `json:"path"`
	Type        string   `json:"type"`
	Access      *int     `json:"access,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Critical    *bool    `json:"critical,omitempty"`
}

// Default returns the daemon defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads a configuration file over the defaults. An empty path yields
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "configuration file read")
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "configuration file parse")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.ServerOptions().Validate(); err != nil {
		return err
	}
	for _, m := range c.Methods {
		if m.Path == "" || m.Path[0] != '/' {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"config", "Validate", "method path validation")
		}
	}
	return nil
}

// TreeOpts converts a method declaration into tree attributes; the type tag
// string expands into argument descriptors.
func (m MethodConfig) TreeOpts() tree.Opts {
	opts := tree.Opts{
		Tags:     m.Tags,
		Critical: m.Critical,
	}
	if m.Description != "" {
		opts.Description = tree.StringPtr(m.Description)
	}
	if m.Access != nil {
		opts.Access = tree.AccessPtr(tree.Access(*m.Access))
	}

	types := osc.ParseTypeTag(m.Type)
	args := make([]osc.Argument, len(types))
	for i, t := range types {
		args[i] = osc.Argument{Type: t}
	}
	opts.Arguments = args

	return opts
}

// ServerOptions converts the file shape into server options.
func (c *Config) ServerOptions() server.Options {
	return server.Options{
		HTTPPort:         c.Service.HTTPPort,
		BindAddress:      c.Service.BindAddress,
		RootDescription:  c.Service.RootDescription,
		OSCQueryHostName: c.Service.OSCQueryHostName,
		OSCIP:            c.Service.OSCIP,
		OSCPort:          c.Service.OSCPort,
		OSCTransport:     c.Service.OSCTransport,
		ServiceName:      c.Service.ServiceName,
		WSIP:             c.Service.WSIP,
		WSPort:           c.Service.WSPort,
		Broadcast:        c.Service.Broadcast,
		DisableMDNS:      c.Service.DisableMDNS,
	}
}
