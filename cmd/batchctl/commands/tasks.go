package commands

import (
	"batchkit/internal/orchestrator"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (c *CLI) newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks JOB",
		Short: "List the tasks of a submitted job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			svc, set, err := c.service(cmd, orchestrator.Config{})
			if err != nil {
				return err
			}
			defer set.Close()

			resp, err := svc.Tasks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tSTATE\tEXIT\tCREATED")
			for _, t := range resp.Tasks {
				exit := "-"
				if t.ExitCode != nil {
					exit = strconv.Itoa(*t.ExitCode)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.State, exit, t.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	addBackendFlags(cmd)
	cmd.Flags().Bool("json", false, "Print the tasks as JSON")
	return cmd
}
