// DataLink keeps a game server connected to its control server: it
// authenticates with a license key, answers keepalives, reports player joins
// and quits, and pushes player statistics on request.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcdatalink/datalink/internal/connector"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
  ____        _        _     _       _
 |  _ \  __ _| |_ __ _| |   (_)_ __ | | __
 | | | |/ _' | __/ _' | |   | | '_ \| |/ /
 | |_| | (_| | || (_| | |___| | | | |   <
 |____/ \__,_|\__\__,_|_____|_|_| |_|_|\_\  %s
`

type rootFlags struct {
	configDir string
	noConsole bool
	logLevel  string
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "datalink",
		Short: "Link a game server to its control server",
		Long: `DataLink maintains an authenticated TCP session with the control server,
forwards player joins and quits, and pushes player statistics.

Running without a subcommand starts the link.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configDir, "config-dir", "config", "directory holding config.json")
	rootCmd.Flags().BoolVar(&flags.noConsole, "no-console", false, "disable the interactive console")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		setupCmd(flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err unless the link already logged it as terminal.
func reportError(w io.Writer, err error) {
	if connector.IsTerminal(err) {
		return
	}
	fmt.Fprintf(w, "Error: %s\n", err)
}
