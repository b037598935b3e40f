package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lyrebird/internal/api"
	"lyrebird/internal/daemonctl"
	"lyrebird/internal/ipc"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external tool availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Prefer the daemon's view of its own environment; fall back to
			// checking the local PATH when it is not running.
			var deps []ipc.DependencyStatus
			if client, err := ipc.Dial(ctx.socketPath()); err == nil {
				defer client.Close()
				resp, err := client.DepsCheck()
				if err != nil {
					return err
				}
				deps = resp.Dependencies
			} else {
				cfg, cfgErr := ctx.ensureConfig()
				if cfgErr != nil {
					return cfgErr
				}
				deps = daemonctl.ResolveDependencies(cfg)
			}

			summary := api.SummarizeDependencies(deps)
			if ctx.jsonMode() {
				return writeJSON(cmd, map[string]any{
					"dependencies": deps,
					"summary":      summary,
				})
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(deps))
			for _, dep := range deps {
				state := "Missing"
				if dep.Available {
					state = "Ready"
				} else if dep.Optional {
					state = "Missing (optional)"
				}
				rows = append(rows, []string{dep.Name, state, dep.Command, dep.Detail})
			}
			table := renderTable(
				[]string{"Dependency", "Status", "Command", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprintln(out, table)
			fmt.Fprintln(out, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, shouldColorize(out)))
			return nil
		},
	}
}
