// Command toybridge drives haptic devices from game telemetry through an
// Intiface server.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/germanamz/toybridge/pkg/toydir"
)

func main() {
	// Handle subcommands before flag parsing.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			initCmd := flag.NewFlagSet("init", flag.ExitOnError)
			initCmd.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: toybridge init [flags]\n\nCreate a .toybridge directory and write config.yaml interactively.\n\nFlags:\n")
				initCmd.PrintDefaults()
			}
			dir := initCmd.String("dir", toydir.DefaultName, "path to .toybridge directory")
			force := initCmd.Bool("force", false, "overwrite an existing config.yaml")
			_ = initCmd.Parse(os.Args[2:])

			if err := runInit(*dir, *force); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}

			return
		case "devices":
			devCmd := flag.NewFlagSet("devices", flag.ExitOnError)
			devCmd.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: toybridge devices [flags]\n\nConnect, scan, and list the devices the server knows about.\n\nFlags:\n")
				devCmd.PrintDefaults()
			}
			cfgPath := devCmd.String("config", "", "path to configuration file")
			dir := devCmd.String("dir", toydir.DefaultName, "path to .toybridge directory")
			envFile := devCmd.String("env", "", "path to .env file (default: .toybridge/.env, then ./.env; ignored if missing)")
			address := devCmd.String("address", "", "server address (overrides config)")
			wait := devCmd.Duration("wait", 15*time.Second, "how long to wait for the scan to settle")
			_ = devCmd.Parse(os.Args[2:])

			if err := loadDotEnv(resolveEnvPath(*envFile, *dir)); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}

			if err := runDevices(*cfgPath, *dir, *address, *wait); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}

			return
		}
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: toybridge [flags]\n       toybridge <command> [flags]\n\nReads telemetry as JSON lines from -feed and drives the connected devices.\n\nFlags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n  init     Create a .toybridge directory and config interactively\n  devices  List devices known to the server\n")
	}

	var opts runOptions
	flag.StringVar(&opts.configPath, "config", "", "path to configuration file (default: .toybridge/config.yaml, built-in defaults when missing)")
	flag.StringVar(&opts.dir, "dir", toydir.DefaultName, "path to .toybridge directory")
	flag.StringVar(&opts.address, "address", "", "server address (overrides config)")
	flag.StringVar(&opts.feed, "feed", "-", "telemetry source, a file or named pipe (\"-\" for stdin)")
	flag.BoolVar(&opts.tui, "tui", false, "show a live monitor; logs go to the log file")
	envFile := flag.String("env", "", "path to .env file (default: .toybridge/.env, then ./.env; ignored if missing)")
	flag.Parse()

	if err := loadDotEnv(resolveEnvPath(*envFile, opts.dir)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
