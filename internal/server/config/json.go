package config

import (
	"encoding/json"
	"os"

	"edgerelay/internal/flagx"
	"edgerelay/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "3s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr          string         `json:"endpoint_addr"`
	DatabaseDSN           string         `json:"database_dsn"`
	MasterSecret          string         `json:"master_secret"`
	PollMinInterval       timex.Duration `json:"poll_min_interval"`
	PollStep              timex.Duration `json:"poll_step"`
	PollMaxInterval       timex.Duration `json:"poll_max_interval"`
	PollPageSize          int            `json:"poll_page_size"`
	FanoutChunkSize       int            `json:"fanout_chunk_size"`
	FanoutWorkers         int            `json:"fanout_workers"`
	OnlineWindow          timex.Duration `json:"online_window"`
	OperatorTokenValidity timex.Duration `json:"operator_token_validity"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded. Zero values in the
// file leave the corresponding defaults untouched.
func parseJson(config *Config) {
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

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.MasterSecret != "" {
		config.MasterSecret = c.MasterSecret
	}
	if c.PollMinInterval.Duration != 0 {
		config.PollMinInterval = c.PollMinInterval.Duration
	}
	if c.PollStep.Duration != 0 {
		config.PollStep = c.PollStep.Duration
	}
	if c.PollMaxInterval.Duration != 0 {
		config.PollMaxInterval = c.PollMaxInterval.Duration
	}
	if c.PollPageSize != 0 {
		config.PollPageSize = c.PollPageSize
	}
	if c.FanoutChunkSize != 0 {
		config.FanoutChunkSize = c.FanoutChunkSize
	}
	if c.FanoutWorkers != 0 {
		config.FanoutWorkers = c.FanoutWorkers
	}
	if c.OnlineWindow.Duration != 0 {
		config.OnlineWindow = c.OnlineWindow.Duration
	}
	if c.OperatorTokenValidity.Duration != 0 {
		config.OperatorTokenValidity = c.OperatorTokenValidity.Duration
	}
}
