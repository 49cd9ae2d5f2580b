package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-authgate/authcore/internal/bootstrap"
	"github.com/go-authgate/authcore/internal/config"
	"github.com/go-authgate/authcore/internal/logging"
	"github.com/go-authgate/authcore/internal/version"
)

func main() {
	// Define flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		version.PrintVersion()
		os.Exit(0)
	}

	// Check if command is provided
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Handle subcommands
	switch args[0] {
	case "server":
		os.Exit(runServer())
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [OPTIONS] COMMAND\n\n", os.Args[0])
	fmt.Println("OpenID Connect identity server with federated sign-out")
	fmt.Println("\nCommands:")
	fmt.Println("  server    Start the identity server")
	fmt.Println("\nOptions:")
	fmt.Println("  -v, --version    Show version information")
	fmt.Println("  -h, --help       Show this help message")
}

// runServer returns the process exit code.
func runServer() int {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	// Startup only; once serving, the graceful manager handles signals.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Run(ctx, cfg, logger); err != nil {
		var cfgErr *bootstrap.ConfigurationError
		if errors.As(err, &cfgErr) {
			logging.Critical(ctx, logger, "startup aborted", "error", err)
		} else {
			logger.Error("server failed", "error", err)
		}
		return 1
	}
	return 0
}
