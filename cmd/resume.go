package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auctionintel/research-engine/internal/model"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused or interrupted job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID := args[0]
		if err := env.manager.Resume(ctx, jobID); err != nil {
			return err
		}
		zap.L().Info("job resumed", zap.String("job_id", jobID))

		status := followJob(ctx, env, jobID)
		if status != model.JobCompleted {
			return eris.Errorf("job %s ended %s", jobID, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
