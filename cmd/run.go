package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auctionintel/research-engine/internal/model"
)

var (
	runFile        string
	runCallerRef   string
	runConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run [organization ...]",
	Short: "Run a research job and follow its progress",
	Long:  "Researches the given organizations (or one per line from --file) and streams progress until the job finishes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orgs := args
		if runFile != "" {
			fromFile, err := readOrganizations(runFile)
			if err != nil {
				return err
			}
			orgs = append(orgs, fromFile...)
		}
		if len(orgs) == 0 {
			return eris.New("no organizations given; pass names or --file")
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.manager.StartJob(ctx, orgs, runCallerRef, runConcurrency)
		if err != nil {
			return err
		}
		zap.L().Info("job started",
			zap.String("job_id", job.ID),
			zap.Int("organizations", len(job.Organizations)),
		)

		status := followJob(ctx, env, job.ID)
		if status != model.JobCompleted {
			return eris.Errorf("job %s ended %s", job.ID, status)
		}
		return nil
	},
}

func readOrganizations(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var orgs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		orgs = append(orgs, line)
	}
	return orgs, eris.Wrapf(scanner.Err(), "read %s", path)
}

// followJob streams progress events to the log until the job reaches a
// terminal state, then returns that state. Interrupting pauses the job so
// it can be resumed later.
func followJob(ctx context.Context, env *engineEnv, jobID string) model.JobStatus {
	log := env.manager.Log(jobID)
	if log == nil {
		return model.JobFailed
	}
	ch, cancel := log.Subscribe(0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			zap.L().Warn("interrupted, pausing job", zap.String("job_id", jobID))
			env.manager.Pause(jobID)
			env.manager.Wait(jobID)
			return model.JobPaused
		case ev, open := <-ch:
			if !open {
				env.manager.Wait(jobID)
				job, err := env.store.GetJob(context.Background(), jobID)
				if err != nil {
					return model.JobFailed
				}
				return job.Status
			}
			logEvent(ev)
		}
	}
}

func logEvent(ev model.ProgressEvent) {
	switch ev.Kind {
	case model.EventItemCompleted:
		fields := []zap.Field{
			zap.Int("processed", ev.Processed),
			zap.Int("total", ev.Total),
		}
		if ev.Item != nil {
			fields = append(fields,
				zap.String("organization", ev.Item.Organization),
				zap.String("status", string(ev.Item.Status)),
			)
			if ev.Item.Best != nil {
				fields = append(fields,
					zap.String("event", ev.Item.Best.EventTitle),
					zap.String("tier", string(ev.Item.Best.Tier())),
				)
			}
		}
		zap.L().Info("item finished", fields...)
	case model.EventItemFailed:
		org := ""
		if ev.Item != nil {
			org = ev.Item.Organization
		}
		zap.L().Warn("item failed",
			zap.String("organization", org),
			zap.String("error", ev.Error),
		)
	case model.EventCheckpointSaved:
		if ev.Checkpoint != nil {
			zap.L().Debug("checkpoint saved",
				zap.Int64("seq", ev.Checkpoint.Seq),
				zap.Int("cursor", ev.Checkpoint.Cursor),
			)
		}
	case model.EventJobCompleted, model.EventJobFailed, model.EventJobCanceled:
		zap.L().Info("job finished",
			zap.String("kind", string(ev.Kind)),
			zap.Int("processed", ev.Processed),
			zap.Int("total", ev.Total),
		)
	}
}

func init() {
	runCmd.Flags().StringVar(&runFile, "file", "", "file with one organization per line")
	runCmd.Flags().StringVar(&runCallerRef, "caller-ref", "", "opaque caller reference stored on the job")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "worker count (default from config)")
	rootCmd.AddCommand(runCmd)
}
