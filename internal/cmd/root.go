// Package cmd holds the CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johandahlberg/arteria-delivery/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build metadata injected via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile  string
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "arteria-delivery",
	Short: "Staging and delivery service for sequencing instrument output",
	Long: `arteria-delivery stages sequencing runfolders and project directories
into a staging area and hands them to the external mover transfer tool,
tracking every order in a local database.

Run 'arteria-delivery serve' to start the REST service.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(logLevel, logJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: app.yaml in ., /etc/arteria-delivery)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", true, "Emit JSON logs")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
