package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid
	// arguments, validation did not pass).
	ExitCodeError = 1
)

// rootCmd represents the base command for the mcpvet application.
var rootCmd = &cobra.Command{
	Use:   "mcpvet",
	Short: "Validate and stress-test MCP server projects",
	Long: `mcpvet launches a generated MCP server project as a child process,
speaks JSON-RPC 2.0 over its stdio, and escalates scrutiny through startup,
protocol handshake, functionality probing, benchmarking, multi-client
integration, concurrent load testing, and static security scanning.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpvet version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())
}
