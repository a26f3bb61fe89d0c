package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// streamsCmd 列出事件流摘要
var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "List streams and event bus statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := NewClient().Streams(ctx)
		if err != nil {
			return err
		}
		return NewPrinter(cmd.OutOrStdout()).PrintStreams(resp)
	},
}

// routesCmd 列出已注册的路由
var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List registered routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		routes, err := NewClient().Routes(ctx)
		if err != nil {
			return err
		}
		return NewPrinter(cmd.OutOrStdout()).PrintRoutes(routes)
	},
}

func init() {
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(routesCmd)
}
