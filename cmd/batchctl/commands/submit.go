package commands

import (
	"batchkit/internal/job"
	"batchkit/internal/orchestrator"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
)

// ErrPartialSubmission is returned by submit when some tasks were rejected.
var ErrPartialSubmission = errors.New("some tasks were not submitted")

func (c *CLI) newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit the workload described by a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(cmd, args[0])
			if err != nil {
				return err
			}
			uploads, _ := cmd.Flags().GetInt("upload-concurrency")
			submits, _ := cmd.Flags().GetInt("submit-concurrency")
			asJSON, _ := cmd.Flags().GetBool("json")

			svc, set, err := c.service(cmd, orchestrator.Config{
				UploadConcurrency: uploads,
				SubmitConcurrency: submits,
			})
			if err != nil {
				return err
			}
			defer set.Close()

			resp, err := svc.Submit(cmd.Context(), m)
			if resp != nil {
				if asJSON {
					_ = writeJSON(cmd.OutOrStdout(), resp)
				} else {
					_ = writeSubmission(cmd.OutOrStdout(), resp)
				}
			}
			if err != nil {
				return err
			}
			if resp.Status == job.StatusPartial {
				return zerr.With(ErrPartialSubmission, "failed", resp.Failed)
			}
			return nil
		},
	}
	addBackendFlags(cmd)
	addManifestFlags(cmd)
	cmd.Flags().Int("upload-concurrency", 8, "Parallel file uploads")
	cmd.Flags().Int("submit-concurrency", 16, "Parallel task submissions")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

func writeSubmission(w io.Writer, resp *job.SubmitResponse) error {
	fmt.Fprintf(w, "pool %s, job %s: %d submitted, %d failed\n\n", resp.Pool, resp.Job, resp.Submitted, resp.Failed)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tID\tARGUMENTS\tERROR")
	for _, t := range resp.Tasks {
		id, errText := t.ID, t.Error
		if id == "" {
			id = "-"
		}
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, id, formatArguments(t.Arguments), errText)
	}
	return tw.Flush()
}
