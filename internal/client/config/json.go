package config

import (
	"encoding/json"
	"os"

	"edgerelay/internal/flagx"
	"edgerelay/internal/timex"
)

// JsonConfig is the JSON-file DTO for the client Config; duration fields
// accept "3s"-style strings or integer nanoseconds via timex.Duration.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	CredentialsFile    string         `json:"credentials_file"`
	Name               string         `json:"name"`
	PollMinInterval    timex.Duration `json:"poll_min_interval"`
	PollStep           timex.Duration `json:"poll_step"`
	PollMaxInterval    timex.Duration `json:"poll_max_interval"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = c.ServerEndpointAddr
	}
	if c.CredentialsFile != "" {
		cfg.CredentialsFile = c.CredentialsFile
	}
	if c.Name != "" {
		cfg.Name = c.Name
	}
	if c.PollMinInterval.Duration != 0 {
		cfg.PollMinInterval = c.PollMinInterval.Duration
	}
	if c.PollStep.Duration != 0 {
		cfg.PollStep = c.PollStep.Duration
	}
	if c.PollMaxInterval.Duration != 0 {
		cfg.PollMaxInterval = c.PollMaxInterval.Duration
	}
}
