package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/signalbox/internal/audit"
	"github.com/zulandar/signalbox/internal/config"
)

func newIncidentsCmd() *cobra.Command {
	var (
		configPath string
		chatID     string
		kind       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List recorded incident events",
		Long:  "Prints the incident audit trail (declared, rejected, resolved, ended, expired), newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Audit.Driver == "none" {
				return fmt.Errorf("audit trail is disabled (audit.driver: none)")
			}
			store, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.List(cmd.Context(), audit.ListOpts{ChatID: chatID, Kind: kind, Limit: limit})
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&chatID, "chat", "", "only events for this chat ID")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events")
	return cmd
}

func printEvents(out io.Writer, events []audit.Event) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No incident events recorded.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tCHAT\tINCIDENT\tACTOR")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.CreatedAt.Local().Format(time.DateTime), ev.Kind, ev.ChatID, shortID(ev.IncidentID), dash(ev.Actor))
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return dash(id)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
