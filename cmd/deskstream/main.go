// Command deskstream streams a desktop to a remote viewer over an
// encrypted TCP or QUIC channel.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "deskstream",
		Short: "Encrypted remote desktop streaming",
		Long: `deskstream serves a screen to a remote viewer.

The host captures the screen at a fixed cadence, sends only the changed
regions and relays the viewer's pointer and keyboard input. Every
connection runs a post-quantum key exchange before any pixel is sent.

Examples:
  deskstream host --listen :5910
  deskstream view localhost:5910 --snapshot screen.png`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		hostCmd(),
		viewCmd(),
		sessionsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
