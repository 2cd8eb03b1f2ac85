// msgwindow runs the reference message backend and a terminal client that
// renders a conversation through an index-stable window.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"msgwindow/cmd/internal/app"
)

// Global flags
var configPath string

// Watch command flags
var (
	watchURL          string
	watchOrigin       string
	watchConversation string
	watchRole         string
	watchPushVia      string
	watchPageSize     int
	watchMetricsAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "msgwindow",
	Short: "Windowed, index-stable views over paginated message streams",
	Long: `msgwindow serves a paginated conversation backend over WebSocket and
ships a terminal client that keeps every message at a stable index while
older pages and live updates arrive.

Configuration is read from defaults, then --config (or MSGWIN_CONFIG_FILE),
then MSGWIN_* environment variables.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket backend",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.LoadConfig(configPath)
		if err != nil {
			return err
		}
		return app.Serve(cmd.Context(), cfg)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [conversation]",
	Short: "Join a conversation and follow it in the terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			cfg.Watch.Conversation = args[0]
		}
		applyWatchFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return app.Watch(cmd.Context(), cfg, os.Stdin, os.Stdout)
	},
}

// applyWatchFlags overrides config values only for flags the user set.
func applyWatchFlags(cmd *cobra.Command, cfg *app.Config) {
	f := cmd.Flags()
	if f.Changed("url") {
		cfg.Watch.URL = watchURL
	}
	if f.Changed("origin") {
		cfg.Watch.Origin = watchOrigin
	}
	if f.Changed("conversation") {
		cfg.Watch.Conversation = watchConversation
	}
	if f.Changed("role") {
		cfg.Watch.Role = watchRole
	}
	if f.Changed("push-via") {
		cfg.Watch.PushVia = watchPushVia
	}
	if f.Changed("page-size") {
		cfg.Window.PageSize = watchPageSize
	}
	if f.Changed("metrics-addr") {
		cfg.Watch.MetricsAddr = watchMetricsAddr
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	watchCmd.Flags().StringVar(&watchURL, "url", "", "gateway WebSocket URL")
	watchCmd.Flags().StringVar(&watchOrigin, "origin", "", "Origin header sent on dial")
	watchCmd.Flags().StringVar(&watchConversation, "conversation", "", "conversation id to join")
	watchCmd.Flags().StringVar(&watchRole, "role", "", "sender role: customer or operator")
	watchCmd.Flags().StringVar(&watchPushVia, "push-via", "", "live update source: ws or amqp")
	watchCmd.Flags().IntVar(&watchPageSize, "page-size", 0, "messages per page")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve window metrics on this address")

	rootCmd.AddCommand(serveCmd, watchCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "msgwindow:", err)
		os.Exit(1)
	}
}
