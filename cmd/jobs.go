package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/auctionintel/research-engine/internal/model"
	"github.com/auctionintel/research-engine/internal/store"
)

var (
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent research jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.store.ListJobs(cmd.Context(), store.JobFilter{
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tORGS\tCREATED\tCALLER REF")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.Status, len(j.Organizations),
				j.CreatedAt.Format("2006-01-02 15:04:05"), j.CallerRef,
			)
		}
		return w.Flush()
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "max jobs to list")
	rootCmd.AddCommand(jobsCmd)
}
