// Command talkiehub runs the relay hub: the WebSocket switchboard that
// registers devices, forwards voice messages, and serves the device
// directory API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talkiebox/talkie/internal/config"
	"github.com/talkiebox/talkie/internal/hub"
)

var (
	cfgPath    string
	listenAddr string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "talkiehub",
	Short:        "Voice-clip messenger relay hub",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay hub server",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		cfg, err := config.LoadHub(cfgPath)
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return hub.Run(ctx, cfg)
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
	serveCmd.Flags().StringVarP(&cfgPath, "config", "c", "talkiehub.yaml", "path to hub config file")
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override listen address")
	serveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
