package config

import (
	"flag"
	"os"

	"edgerelay/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the relay server
//	-f string   credentials file path
//	-n string   client name sent at registration
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-n"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "base URL of the relay server")
	fs.StringVar(&cfg.CredentialsFile, "f", cfg.CredentialsFile, "credentials file path")
	fs.StringVar(&cfg.Name, "n", cfg.Name, "client name")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
