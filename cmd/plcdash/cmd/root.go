package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	verbose  bool
	debug    bool
	logLevel string
)

// Environment defaults for the persistent flags. Flags given on the
// command line win.
type cliEnv struct {
	LogLevel string `env:"PLCDASH_LOG_LEVEL" envDefault:"info"`
	Context  string `env:"PLCDASH_CONTEXT" envDefault:"client"`
}

var defaults = loadEnv()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "plcdash",
	Short: "PLC dashboard client runtime",
	Long: `plcdash runs the client side of the PLC monitoring dashboard.

It reads HCL application configuration, runs the configured startup
plugins and drives the Socket.IO connection to the dashboard backend
at http://localhost:5000.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", defaults.LogLevel, "log level (debug, info, warn, error)")
}

func loadEnv() cliEnv {
	var e cliEnv
	if err := env.Parse(&e); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ignoring environment: %v\n", err)
		return cliEnv{LogLevel: "info", Context: "client"}
	}
	return e
}

func setupLogger() (*zap.Logger, error) {
	return newLogger(logLevel, verbose, debug)
}

func newLogger(level string, verboseFlag, debugFlag bool) (*zap.Logger, error) {
	// Override log level based on flags
	if debugFlag {
		level = "debug"
	} else if verboseFlag && level == "info" {
		level = "debug"
	}

	var zapLevel zap.AtomicLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.NewProductionConfig()
	config.Level = zapLevel
	config.Development = debugFlag

	return config.Build()
}
