package cli

import "os"

// Args holds the command line options.
type Args struct {
	// Config is the YAML job file, config.yaml by default.
	Config string
	// EnvFile is an optional .env file loaded before the config.
	EnvFile string
}

// ParseArgs reads the command line.
//
// It accepts both `-c <path>` and `--config <path>`, and `-e <path>` or
// `--env <path>` for an environment file. Flags missing a value are ignored.
func ParseArgs(argv []string) Args {
	a := Args{Config: "config.yaml"}
	for i := 0; i < len(argv); i++ {
		if i+1 >= len(argv) {
			break
		}
		switch argv[i] {
		case "-c", "--config":
			a.Config = argv[i+1]
			i++
		case "-e", "--env":
			a.EnvFile = argv[i+1]
			i++
		}
	}
	return a
}

// Exit terminates the process with the given exit code.
func Exit(code int) {
	os.Exit(code)
}
