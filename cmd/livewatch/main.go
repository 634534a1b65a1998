package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "livewatch",
		Short:        "Attach to a live scope and follow its state",
		Long:         "livewatch joins a scope on a livesync relay, prints feature snapshots as they change, and can post chat messages.",
		SilenceUsage: true,
	}

	var flags clientFlags
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional dotenv file")
	rootCmd.PersistentFlags().StringVar(&flags.url, "url", "", "Relay websocket URL (default LIVESYNC_RELAY_URL)")
	rootCmd.PersistentFlags().StringVar(&flags.scope, "scope", "", "Scope to join (default LIVESYNC_SCOPE)")
	rootCmd.PersistentFlags().StringVar(&flags.credential, "credential", "", "Bearer credential (default LIVESYNC_CREDENTIAL)")
	rootCmd.PersistentFlags().StringVar(&flags.user, "user", "", "User id (default LIVESYNC_USER_ID)")

	rootCmd.AddCommand(
		newWatchCmd(&flags),
		newSayCmd(&flags),
	)
	return rootCmd
}
