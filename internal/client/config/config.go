// Package config handles configuration for the edge client.
package config

import "time"

// Config holds runtime settings for the edge client.
//
// Fields:
//   - ServerEndpointAddr: base URL of the relay HTTP endpoint.
//   - CredentialsFile: path to the JSON file holding issued credentials.
//   - Name: human-readable label sent at registration.
//   - PollMinInterval / PollStep / PollMaxInterval: local backoff bounds.
//     The server's advisory interval is honored within these bounds.
type Config struct {
	ServerEndpointAddr string
	CredentialsFile    string
	Name               string
	PollMinInterval    time.Duration
	PollStep           time.Duration
	PollMaxInterval    time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.CredentialsFile = "relay-credentials.json"
	c.PollMinInterval = 3 * time.Second
	c.PollStep = 3 * time.Second
	c.PollMaxInterval = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
