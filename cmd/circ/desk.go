package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/circdesk/internal/circulation"
	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/tui"
	"github.com/Veraticus/circdesk/internal/tui/themes"
)

func deskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "desk",
		Short: "Open the full-screen scan station",
		Long: `Open a scan station for a barcode reader. In Lend mode scan a patron card
and then each copy they borrow; in Return mode scan each copy handed back.
Tab switches mode, Esc moves on to the next patron.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			collect, _ := cmd.Flags().GetBool("collect-fines")
			policy := circulation.DecisionDefer
			if collect {
				policy = circulation.DecisionPayNow
			}

			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				syncCtx, stopSync := context.WithCancel(ctx)
				defer stopSync()
				syncInBackground(syncCtx, d.dispatcher.Run)

				err := tui.Run(ctx, d.engine,
					tui.WithTheme(themes.ByName(viper.GetString("ui.theme"))),
					tui.WithFinePolicy(policy),
				)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().Bool("collect-fines", false, "start with late fines paid at the desk")
	return cmd
}

// syncInBackground runs the outbox dispatcher until ctx ends. The returned
// channel closes once it has stopped.
func syncInBackground(ctx context.Context, run func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			common.LogWarn(err, "Background sync stopped", nil)
		}
	}()
	return done
}
