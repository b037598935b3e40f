package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lyrebird/internal/ipc"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id> <stage>",
		Short: "Run a single pipeline stage synchronously",
		Long: `Run one stage of a job and wait for it to finish.

The stage must be runnable for the job's current state: separation,
transcription, or karaoke. Useful for re-running a failed stage without
requeueing the whole job.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			stage := strings.ToLower(strings.TrimSpace(args[1]))
			if id == "" {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			if stage == "" {
				return fmt.Errorf("invalid stage %q", args[1])
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunStage(id, stage)
				if err != nil {
					return err
				}
				if resp != nil && resp.Completed {
					fmt.Fprintf(cmd.OutOrStdout(), "Stage %s completed for job %s\n", stage, id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Stage %s did not complete for job %s\n", stage, id)
				}
				return nil
			})
		},
	}
}
