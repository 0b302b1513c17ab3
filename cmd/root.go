package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// rootCmd represents the base command for the aifactory application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "aifactory",
	Short: "Orchestrate AI inference workloads on an HPC batch cluster",
	Long: `aifactory translates service declarations into batch-job submissions
over a forwarded control channel, tracks service and replica-group
lifecycle, and routes inference, vector-db, and metrics traffic to the
compute nodes it provisions.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "aifactory version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "Base URL of a running aifactory gateway (env: AIFACTORY_SERVER)")
	if v := os.Getenv("AIFACTORY_SERVER"); v != "" {
		serverAddr = v
	}
}
