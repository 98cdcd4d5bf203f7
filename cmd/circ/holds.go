package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/circdesk/internal/cli"
	"github.com/Veraticus/circdesk/internal/model"
)

func holdsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holds",
		Short: "Manage holds on titles",
		Long: `Holds queue patrons for a title. Returned copies go to the longest
waiting patron.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "place <patron-id> <title-id>",
		Short: "Place a hold",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				if _, err := d.engine.PlaceHold(ctx, args[0], args[1]); err != nil {
					return err
				}
				queue, err := d.engine.HoldQueue(args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Hold placed, position %d in queue", len(queue))))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <patron-id> <title-id>",
		Short: "Cancel a hold",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				if err := d.engine.CancelHold(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Hold cancelled"))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "queue <title-id>",
		Short: "Show who is waiting for a title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd.Context(), func(d *desk) error {
				queue, err := d.engine.HoldQueue(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(queue) == 0 {
					fmt.Fprintln(out, cli.FormatInfo("Nobody is waiting"))
					return nil
				}
				rows := make([][]string, 0, len(queue))
				for i, ref := range queue {
					p, _ := d.store.Patron(ref.PatronID)
					rows = append(rows, []string{strconv.Itoa(i + 1), ref.PatronID, p.Name, model.DateOf(ref.Hold.RequestedAt).Thai()})
				}
				fmt.Fprintln(out, cli.RenderTable([]string{"#", "Patron", "Name", "Since"}, rows))
				return nil
			})
		},
	})
	return cmd
}
