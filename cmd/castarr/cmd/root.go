// Package cmd implements the CLI commands for castarr.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/castarr/castarr/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "castarr",
	Short:   "Broadcast channels from your media library",
	Version: version.Short(),
	Long: `castarr turns a curated media library into persistent broadcast
channels delivered as HLS streams.

Channels are built from manually picked tracks or derived from artists and
genres, transcoded continuously by ffmpeg, and served to any number of
clients with per-channel access tokens.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/castarr, $HOME/.castarr)")
}
