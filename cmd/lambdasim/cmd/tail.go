package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriys/lambdasim/internal/domain"
	"github.com/spf13/cobra"
)

// tailCmd 通过 WebSocket 实时输出事件流的新记录，Ctrl+C 结束
var tailCmd = &cobra.Command{
	Use:   "tail <stream>",
	Short: "Follow new records of a stream",
	Long: `Subscribe to a stream and print each new record as it is published.
Records published before the subscription starts are not shown; use 'events' for history.

Examples:
  lambdasim tail bet-events
  lambdasim tail game-events -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

var tailBuffer int

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().IntVar(&tailBuffer, "buffer", 0, "Server-side queue size; records beyond it are dropped")
}

func runTail(cmd *cobra.Command, args []string) error {
	stream := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := NewClient()
	printer := NewPrinter(cmd.OutOrStdout())

	fmt.Fprintf(os.Stderr, "Tailing %s on %s (Ctrl+C to stop)\n", stream, client.BaseURL())
	return client.Tail(ctx, stream, tailBuffer, func(r domain.Record) error {
		return printer.PrintRecord(r)
	})
}
