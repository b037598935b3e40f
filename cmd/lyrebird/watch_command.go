package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lyrebird/internal/events"
	"lyrebird/internal/ipc"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream progress events for a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			return ctx.withClient(func(client *ipc.Client) error {
				ctx := cmd.Context()
				var since uint64

				for {
					resp, err := client.Events(ipc.EventsRequest{
						JobID:      id,
						Since:      since,
						WaitMillis: 1000,
					})
					if err != nil {
						return fmt.Errorf("fetch events: %w", err)
					}
					for _, evt := range resp.Events {
						if ctx.Err() == nil {
							fmt.Fprintln(cmd.OutOrStdout(), formatWatchEvent(evt))
						}
						if evt.Terminal {
							return nil
						}
					}
					since = resp.Next

					select {
					case <-ctx.Done():
						return nil
					default:
					}
				}
			})
		},
	}
}

func formatWatchEvent(evt events.Event) string {
	ts := evt.Timestamp.UTC().Format("15:04:05")
	stage := strings.TrimSpace(evt.Stage)
	if stage == "" {
		stage = "job"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-14s", ts, stage)
	if evt.Status != "" {
		fmt.Fprintf(&b, " %s", formatStatusLabel(evt.Status))
	}
	if evt.ProgressPercent > 0 {
		fmt.Fprintf(&b, " %.1f%%", evt.ProgressPercent)
	}
	if message := strings.TrimSpace(evt.Message); message != "" {
		fmt.Fprintf(&b, " %s", message)
	}
	if evt.Error != "" {
		fmt.Fprintf(&b, " error=%s", evt.Error)
		if evt.ErrorKind != "" {
			fmt.Fprintf(&b, " (%s)", evt.ErrorKind)
		}
	}
	return b.String()
}
