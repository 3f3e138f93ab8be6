// Command talkie runs the device daemon: it connects to the relay hub,
// drives the session coordinator, and reads button input from stdin.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talkiebox/talkie/internal/device"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "talkie",
	Short: "Voice-clip messenger device daemon",
	Long: `talkie is the device-side daemon of the voice-clip messenger.
It keeps a connection to the relay hub, exchanges voice messages with
configured friends, and maintains per-friend status indicators.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return device.Run(ctx, cfgPath)
	},
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "talkie.yaml", "path to device config file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
