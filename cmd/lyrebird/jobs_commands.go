package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lyrebird/internal/api"
	"lyrebird/internal/ipc"
	"lyrebird/internal/registry"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage submitted jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobList(ctx, cmd, listStatuses)
		},
	}
	jobsCmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")

	jobsCmd.AddCommand(newJobListCommand(ctx))
	jobsCmd.AddCommand(newJobRemoveCommand(ctx))
	jobsCmd.AddCommand(newJobClearCommand(ctx))
	jobsCmd.AddCommand(newJobResetCommand(ctx))
	jobsCmd.AddCommand(newJobHealthCommand(ctx))

	return jobsCmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobList(ctx, cmd, listStatuses)
		},
	}
	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	return cmd
}

func runJobList(ctx *commandContext, cmd *cobra.Command, statuses []string) error {
	return ctx.withStore(func(client *ipc.Client, store *registry.Store) error {
		var jobs []api.Job
		if client != nil {
			resp, err := client.JobList(statuses)
			if err != nil {
				return err
			}
			jobs = resp.Jobs
		} else {
			var filters []registry.JobStatus
			for _, value := range statuses {
				parsed, ok := registry.ParseJobStatus(value)
				if !ok {
					return fmt.Errorf("invalid job status %q", value)
				}
				filters = append(filters, parsed)
			}
			records, err := store.List(cmd.Context(), filters...)
			if err != nil {
				return err
			}
			jobs = api.FromJobs(records)
		}

		if ctx.jsonMode() {
			return writeJSON(cmd, map[string]any{"jobs": jobs})
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
			return nil
		}
		table := renderTable(
			[]string{"ID", "Title", "Status", "Created", "Fingerprint"},
			buildJobListRows(jobs),
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
		)
		fmt.Fprint(cmd.OutOrStdout(), table)
		return nil
	})
}

func newJobRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>...",
		Short: "Remove jobs from the registry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]string, 0, len(args))
			for _, arg := range args {
				id := strings.TrimSpace(arg)
				if id == "" {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}

			return ctx.withStore(func(client *ipc.Client, store *registry.Store) error {
				var results []api.RemoveJobResult
				if client != nil {
					resp, err := client.JobRemove(ids)
					if err != nil {
						return err
					}
					results = resp.Jobs
				} else {
					result, err := api.RemoveJobsByID(cmd.Context(), store, ids)
					if err != nil {
						return err
					}
					results = result.Jobs
				}

				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]any{"jobs": results})
				}
				out := cmd.OutOrStdout()
				for _, res := range results {
					switch res.Outcome {
					case api.RemoveJobRemoved:
						fmt.Fprintf(out, "Job %s removed\n", res.ID)
					case api.RemoveJobNotFound:
						fmt.Fprintf(out, "Job %s not found\n", res.ID)
					}
				}
				return nil
			})
		},
	}
}

func newJobClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs in bulk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted && clearFailed {
				return errors.New("specify only one of --completed or --failed")
			}
			return ctx.withStore(func(client *ipc.Client, store *registry.Store) error {
				out := cmd.OutOrStdout()

				var removed int64
				var err error
				if client != nil {
					switch {
					case clearCompleted:
						var resp *ipc.ClearCompletedResponse
						resp, err = client.ClearCompleted()
						if err == nil {
							removed = resp.Removed
						}
					case clearFailed:
						var resp *ipc.ClearFailedResponse
						resp, err = client.ClearFailed()
						if err == nil {
							removed = resp.Removed
						}
					default:
						var resp *ipc.ClearResponse
						resp, err = client.Clear()
						if err == nil {
							removed = resp.Removed
						}
					}
				} else {
					switch {
					case clearCompleted:
						removed, err = store.ClearCompleted(cmd.Context())
					case clearFailed:
						removed, err = store.ClearFailed(cmd.Context())
					default:
						removed, err = store.Clear(cmd.Context())
					}
				}
				if err != nil {
					return err
				}

				switch {
				case clearCompleted:
					fmt.Fprintf(out, "Cleared %d completed jobs\n", removed)
				case clearFailed:
					fmt.Fprintf(out, "Cleared %d failed jobs\n", removed)
				default:
					fmt.Fprintf(out, "Cleared %d jobs\n", removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed jobs")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed jobs")
	return cmd
}

func newJobResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return in-flight jobs to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(client *ipc.Client, store *registry.Store) error {
				var updated int64
				if client != nil {
					resp, err := client.Reset()
					if err != nil {
						return err
					}
					updated = resp.Updated
				} else {
					var err error
					updated, err = store.ResetStuckRunning(cmd.Context())
					if err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d jobs\n", updated)
				return nil
			})
		},
	}
}

func newJobHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show job count summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(client *ipc.Client, store *registry.Store) error {
				var health registry.HealthSummary
				if client != nil {
					resp, err := client.RegistryHealth()
					if err != nil {
						return err
					}
					health = registry.HealthSummary{
						Total:     resp.Total,
						Pending:   resp.Pending,
						Running:   resp.Running,
						Completed: resp.Completed,
						Failed:    resp.Failed,
					}
				} else {
					var err error
					health, err = store.Health(cmd.Context())
					if err != nil {
						return err
					}
				}

				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]any{
						"total":     health.Total,
						"pending":   health.Pending,
						"running":   health.Running,
						"completed": health.Completed,
						"failed":    health.Failed,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Total: %d\nPending: %d\nRunning: %d\nCompleted: %d\nFailed: %d\n",
					health.Total,
					health.Pending,
					health.Running,
					health.Completed,
					health.Failed,
				)
				return nil
			})
		},
	}
}
