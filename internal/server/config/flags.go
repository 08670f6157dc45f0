package config

import (
	"flag"
	"os"

	"edgerelay/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN, or "memory"
//	-s string   master secret
//	-w int      fanout worker count
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. The poll
// tuning knobs are JSON-file only.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MasterSecret, "s", config.MasterSecret, "master secret")
	fs.IntVar(&config.FanoutWorkers, "w", config.FanoutWorkers, "fanout worker count")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
