package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Args are command line arguments.
type Args struct {
	// Optional.
	ConfigFile string

	BindHost string
	BindPort string

	// Host and port of each neighbor, in the order given.
	Neighbors []HostPort
}

// HostPort is an unresolved address from the command line.
type HostPort struct {
	Host string
	Port string
}

func getArgs() (Args, error) {
	return parseArgs(os.Args[1:], os.Stderr)
}

// parseArgs parses:
//
//	[-config <file>] <bind-ip> <bind-port> [<neighbor-ip> <neighbor-port>]...
func parseArgs(argv []string, output io.Writer) (Args, error) {
	fs := flag.NewFlagSet("duckfed", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output,
			"Usage: duckfed [-config <file>] <bind-ip> <bind-port> [<neighbor-ip> <neighbor-port>]...\n")
		fs.PrintDefaults()
	}

	configFile := fs.String("config", "", "Configuration file (optional).")

	if err := fs.Parse(argv); err != nil {
		return Args{}, err
	}

	positional := fs.Args()
	if len(positional) < 2 || len(positional)%2 != 0 {
		fs.Usage()
		return Args{}, errors.Errorf(
			"you must provide a bind address and port, then neighbor address/port pairs (got %d arguments)",
			len(positional))
	}

	args := Args{
		BindHost: positional[0],
		BindPort: positional[1],
	}

	for i := 2; i < len(positional); i += 2 {
		args.Neighbors = append(args.Neighbors, HostPort{
			Host: positional[i],
			Port: positional[i+1],
		})
	}

	if *configFile != "" {
		configPath, err := filepath.Abs(*configFile)
		if err != nil {
			return Args{}, errors.Wrapf(err,
				"unable to determine absolute path to config file: %s", *configFile)
		}
		args.ConfigFile = configPath
	}

	return args, nil
}
