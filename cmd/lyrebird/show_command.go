package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lyrebird/internal/api"
	"lyrebird/internal/artifacts"
	"lyrebird/internal/ipc"
	"lyrebird/internal/language"
	"lyrebird/internal/logging"
	"lyrebird/internal/registry"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show job details, stages, and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			return ctx.withStore(func(client *ipc.Client, store *registry.Store) error {
				var job api.Job
				var recorded []api.Artifact
				if client != nil {
					resp, err := client.JobDescribe(id)
					if err != nil {
						return err
					}
					job = resp.Job
					recorded = resp.Artifacts
				} else {
					record, err := store.GetJob(cmd.Context(), id)
					if err != nil {
						return err
					}
					if record == nil {
						return fmt.Errorf("job %s not found", id)
					}
					stages, err := store.StagesForJob(cmd.Context(), id)
					if err != nil {
						return err
					}
					job = api.FromJob(record)
					job.Stages = api.FromStageRecords(stages)

					cfg, err := ctx.ensureConfig()
					if err != nil {
						return err
					}
					art, err := artifacts.Open(cfg)
					if err != nil {
						return err
					}
					defer art.Close()
					records, err := art.ListForJob(cmd.Context(), id)
					if err != nil {
						return err
					}
					recorded = api.FromArtifacts(records)
				}

				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]any{"job": job, "artifacts": recorded})
				}
				printJobDetail(cmd, job, recorded)
				return nil
			})
		},
	}
}

func printJobDetail(cmd *cobra.Command, job api.Job, recorded []api.Artifact) {
	out := cmd.OutOrStdout()

	title := strings.TrimSpace(job.Title)
	if title == "" {
		title = api.ProbeTitle(string(job.Probe))
	}

	fmt.Fprintf(out, "ID: %s\n", job.ID)
	fmt.Fprintf(out, "Title: %s\n", title)
	if artist := api.ProbeArtist(string(job.Probe)); artist != "" {
		fmt.Fprintf(out, "Artist: %s\n", artist)
	}
	fmt.Fprintf(out, "Status: %s\n", formatStatusLabel(job.Status))
	fmt.Fprintf(out, "Source: %s\n", job.SourcePath)
	if audio := api.ProbeAudioSummary(string(job.Probe)); audio != "" {
		fmt.Fprintf(out, "Audio: %s\n", audio)
	}
	if job.DurationSeconds > 0 {
		fmt.Fprintf(out, "Duration: %s\n", formatJobDuration(job.DurationSeconds))
	}
	if job.SizeBytes > 0 {
		fmt.Fprintf(out, "Size: %s\n", logging.FormatBytes(job.SizeBytes))
	}
	if job.Fingerprint != "" {
		fmt.Fprintf(out, "Fingerprint: %s\n", job.Fingerprint)
	}
	if job.Language != "" {
		fmt.Fprintf(out, "Language: %s\n", language.DisplayName(job.Language))
	}
	if job.SeparationVariant != "" {
		fmt.Fprintf(out, "Separation variant: %s\n", job.SeparationVariant)
	}
	if job.TranscriptionVariant != "" {
		fmt.Fprintf(out, "Transcription variant: %s\n", job.TranscriptionVariant)
	}
	if created := formatDisplayTime(job.CreatedAt); created != "" {
		fmt.Fprintf(out, "Created: %s\n", created)
	}
	if finished := formatDisplayTime(job.FinishedAt); finished != "" {
		fmt.Fprintf(out, "Finished: %s\n", finished)
	}
	if job.Progress.Stage != "" {
		fmt.Fprintf(out, "Progress: %.1f%% (%s)\n", job.Progress.Percent, job.Progress.Stage)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error: %s\n", job.ErrorMessage)
	}

	fmt.Fprintln(out)
	if len(job.Stages) == 0 {
		fmt.Fprintln(out, "No stages recorded")
	} else {
		rows := make([][]string, 0, len(job.Stages))
		for _, stage := range job.Stages {
			message := stage.Message
			if stage.ErrorMessage != "" {
				message = stage.ErrorMessage
			}
			rows = append(rows, []string{
				formatStatusLabel(stage.Name),
				formatStatusLabel(stage.Status),
				fmt.Sprintf("%.1f%%", stage.ProgressPercent),
				message,
			})
		}
		table := renderTable(
			[]string{"Stage", "Status", "Progress", "Message"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		)
		fmt.Fprintln(out, table)
	}

	fmt.Fprintln(out)
	if len(recorded) == 0 {
		fmt.Fprintln(out, "No artifacts recorded")
		return
	}
	rows := make([][]string, 0, len(recorded))
	for _, artifact := range recorded {
		rows = append(rows, []string{
			formatStatusLabel(artifact.Stage),
			artifact.Name,
			logging.FormatBytes(artifact.SizeBytes),
			artifact.Path,
		})
	}
	table := renderTable(
		[]string{"Stage", "Name", "Size", "Path"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
	fmt.Fprintln(out, table)
}

func formatJobDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	d := time.Duration(seconds * float64(time.Second))
	return d.Round(time.Second).String()
}
