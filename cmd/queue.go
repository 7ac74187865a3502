package cmd

import (
	"fmt"
	"text/tabwriter"

	"queue-system/internal/services"
	"queue-system/security"

	"github.com/spf13/cobra"
)

func NewQueueCommand(queueService *services.QueueService) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue maintenance commands",
	}

	cmd.AddCommand(newDepthCommand(queueService))
	cmd.AddCommand(newAgingCommand(queueService))
	cmd.AddCommand(newKioskKeyCommand())

	return cmd
}

func newDepthCommand(queueService *services.QueueService) *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Print the number of waiting tickets per service type",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := queueService.RebuildIndex(ctx); err != nil {
				return err
			}
			stats, err := queueService.Stats(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tWAITING\tAGENTS\tEST. WAIT (MIN)\tNEXT")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", s.ServiceType, s.TotalInQueue, s.AgentsServing, s.EstimatedWait, s.NextTicket)
			}
			return w.Flush()
		},
	}
}

func newAgingCommand(queueService *services.QueueService) *cobra.Command {
	return &cobra.Command{
		Use:   "aging",
		Short: "Recompute the priority of every waiting ticket once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			// this process has not loaded the queue yet
			if _, err := queueService.RebuildIndex(ctx); err != nil {
				return err
			}
			n, err := queueService.AgingPass(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reprioritized %d tickets\n", n)
			return nil
		},
	}
}

func newKioskKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kiosk-key <key>",
		Short: "Print the bcrypt hash to set as KIOSK_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := security.HashKioskKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
