// Command mailfiler files mail from watched maildirs according to
// per-folder rule files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by the linker.
var version = "dev"

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "mailfiler",
		Short:         "File mail into folders by rule",
		Long:          "Watches maildirs and files each arriving message into folders, addresses and programs according to a rule file.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (TOML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		monitorCmd(a),
		fileCmd(a),
		checkCmd(a),
		groupsCmd(a),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mailfiler:", err)
		a.close()
		os.Exit(1)
	}
}
