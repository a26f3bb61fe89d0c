package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// eventsCmd 查看事件流最近的记录
var eventsCmd = &cobra.Command{
	Use:   "events <stream>",
	Short: "Show recent records of a stream",
	Long: `Show the most recent records of a stream in arrival order.

Examples:
  lambdasim events bet-events
  lambdasim events user-events --limit 50 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		records, err := NewClient().Events(ctx, args[0], eventsLimit)
		if err != nil {
			return err
		}
		return NewPrinter(cmd.OutOrStdout()).PrintRecords(records)
	},
}

var eventsLimit int

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 10, "Number of records to show")
}
