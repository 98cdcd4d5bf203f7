package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/circdesk/internal/cli"
	"github.com/Veraticus/circdesk/internal/outbox"
	"github.com/Veraticus/circdesk/internal/service"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send queued changes to the gateway",
		Long: `Deliver changes that were recorded locally but not yet sent, in the
order they were made. Delivery stops at the first change the gateway cannot
accept right now; it is retried on the next sync.

Changes rejected too many times are set aside as dead letters. Inspect them
with --dead and put one back in the queue with --requeue.`,
		RunE: runSync,
	}
	cmd.Flags().Bool("watch", false, "keep delivering until interrupted")
	cmd.Flags().Bool("dead", false, "list dead-lettered changes")
	cmd.Flags().String("requeue", "", "return a dead-lettered change to the queue")
	cmd.Flags().Duration("purge", 0, "delete delivered changes older than this")
	cmd.MarkFlagsMutuallyExclusive("watch", "dead", "requeue", "purge")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	db, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if dead, _ := cmd.Flags().GetBool("dead"); dead {
		entries, err := db.DeadLetters(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, cli.FormatSuccess("No dead letters"))
			return nil
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.Action.ID,
				string(e.Action.Name),
				e.EnqueuedAt.Local().Format(time.DateTime),
				strconv.Itoa(e.Attempts),
				e.LastError,
			})
		}
		fmt.Fprintln(out, cli.RenderTable([]string{"Request", "Action", "Queued", "Attempts", "Last error"}, rows))
		return nil
	}

	if id, _ := cmd.Flags().GetString("requeue"); id != "" {
		if err := db.Requeue(ctx, id); err != nil {
			return err
		}
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s is queued again", id)))
		return nil
	}

	if age, _ := cmd.Flags().GetDuration("purge"); age > 0 {
		n, err := db.PurgeSent(ctx, time.Now().Add(-age))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Removed %d delivered changes", n)))
		return nil
	}

	dispatcher, _, err := initDispatcher(ctx, db)
	if err != nil {
		return err
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		fmt.Fprintln(out, cli.FormatInfo("Delivering changes as they are queued; press Ctrl+C to stop"))
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	pending, err := dispatcher.Pending(ctx)
	if err != nil {
		return err
	}
	if pending == 0 {
		fmt.Fprintln(out, cli.FormatSuccess("Nothing to sync"))
		return nil
	}

	bar := newSyncBar(out, pending)
	stats, err := dispatcher.Flush(ctx, func(_ service.OutboxEntry, sendErr error) {
		if sendErr == nil {
			_ = bar.Add(1)
		}
	})
	_ = bar.Finish()

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Sent %d of %d changes", stats.Sent, pending)))
	if stats.DeadLettered > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d rejected changes set aside; see `circ sync --dead`", stats.DeadLettered)))
	}
	if errors.Is(err, outbox.ErrDeliveryStalled) {
		slog.Debug("Sync stalled", "error", err)
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d changes still waiting; the gateway is not accepting them right now", stats.Remaining)))
		return nil
	}
	return err
}

func newSyncBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Syncing changes...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}
