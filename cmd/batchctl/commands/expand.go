package commands

import (
	"batchkit/internal/job"
	"batchkit/internal/manifest"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
)

func (c *CLI) newExpandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand FILE",
		Short: "Print the tasks a manifest expands to without submitting them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(cmd, args[0])
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			// Expansion never touches the backend.
			svc := job.NewService(nil, nil, nil, nil)
			resp, err := svc.Expand(cmd.Context(), m)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			return writeExpansion(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().Bool("json", false, "Print the expansion as JSON")
	addManifestFlags(cmd)
	return cmd
}

// addManifestFlags registers the flags overriding manifest fields.
func addManifestFlags(cmd *cobra.Command) {
	cmd.Flags().String("pool", "", "Override the pool name")
	cmd.Flags().String("job", "", "Override the job name")
	cmd.Flags().Int("priority", 0, "Override the job priority")
}

// loadManifest reads the manifest at path and applies the override flags.
func loadManifest(cmd *cobra.Command, path string) (*manifest.Manifest, error) {
	m, err := manifest.LoadFile(path)
	if err != nil {
		return nil, err
	}

	if pool, _ := cmd.Flags().GetString("pool"); pool != "" {
		if m.Pool == nil {
			m.Pool = &manifest.PoolDTO{}
		}
		m.Pool.Name = pool
	}
	if name, _ := cmd.Flags().GetString("job"); name != "" {
		if m.Job == nil {
			m.Job = &manifest.JobDTO{}
		}
		m.Job.Name = name
	}
	if cmd.Flags().Changed("priority") {
		priority, _ := cmd.Flags().GetInt("priority")
		if m.Job == nil {
			m.Job = &manifest.JobDTO{}
		}
		m.Job.Priority = &priority
	}
	return m, nil
}

func writeExpansion(w io.Writer, resp *job.ExpandResponse) error {
	fmt.Fprintf(w, "pool %s, job %s, %d tasks\n\n", resp.Pool, resp.Job, len(resp.Tasks))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tARGUMENTS\tCOMMAND LINE")
	for _, t := range resp.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, formatArguments(t.Arguments), t.CommandLine)
	}
	return tw.Flush()
}

func formatArguments(args map[string]string) string {
	if len(args) == 0 {
		return "-"
	}
	pairs := make([]string, 0, len(args))
	for k, v := range args {
		pairs = append(pairs, k+"="+v)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, ",")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return zerr.Wrap(err, "failed to encode output")
	}
	return nil
}
