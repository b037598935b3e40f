package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"lyrebird/internal/api"
	"lyrebird/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var title string
	var language string
	var separationVariant string
	var transcriptionVariant string

	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Submit an audio file for karaoke processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}

			ext := strings.ToLower(filepath.Ext(info.Name()))
			if !api.AllowedExtension(ext) {
				return fmt.Errorf("unsupported file extension %q, accepted: %s", ext, strings.Join(api.AllowedExtensions(), ", "))
			}

			// Submission needs the daemon: probing and fingerprinting run
			// there before the job is registered.
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					Path:                 absPath,
					Title:                title,
					Language:             language,
					SeparationVariant:    separationVariant,
					TranscriptionVariant: transcriptionVariant,
				})
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from daemon")
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				if resp.IsNew {
					fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s)\n", resp.Job.ID, filepath.Base(absPath))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s already exists for this file\n", resp.Job.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Display title for the job (defaults to file metadata)")
	cmd.Flags().StringVar(&language, "language", "", "Override transcription language (BCP 47 tag, e.g. en or pt-BR)")
	cmd.Flags().StringVar(&separationVariant, "separation", "", "Separation variant to use (e.g. htdemucs, htdemucs_ft)")
	cmd.Flags().StringVar(&transcriptionVariant, "transcription", "", "Transcription variant to use (e.g. large-v3, medium)")
	return cmd
}
