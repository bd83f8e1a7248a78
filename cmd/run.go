package main

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	runIDs        []string
	runMax        int
	runWait       bool
	runCategories []string
	runLocations  []string
	runKeywords   string
	runMaxResults int
	runPlatforms  []string
)

// runStages maps command arguments onto job types.
var runStages = map[string]model.JobType{
	"discover":        model.JobDiscover,
	"scrape":          model.JobScrape,
	"enrich":          model.JobEnrich,
	"verify":          model.JobVerify,
	"draft":           model.JobDraft,
	"send":            model.JobSend,
	"followup":        model.JobFollowup,
	"social-discover": model.JobSocialDiscover,
	"social-draft":    model.JobSocialDraft,
	"social-send":     model.JobSocialSend,
	"social-followup": model.JobSocialFollowup,
}

func stageNames() []string {
	names := make([]string, 0, len(runStages))
	for name := range runStages {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var runCmd = &cobra.Command{
	Use:       "run <stage>",
	Short:     "Dispatch one pipeline stage",
	Long:      "Dispatches a stage through the same checks as the API. With --wait the job runs in this process and its result is printed; without it the job is queued for the serve process.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: stageNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobType, ok := runStages[args[0]]
		if !ok {
			return eris.Errorf("unknown stage %q, want one of %s", args[0], strings.Join(stageNames(), ", "))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, config.ModeRun, runWait)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := dispatchStage(ctx, env.Dispatcher, jobType, cmd)
		if err != nil {
			if ref, ok := dispatch.AsRefusal(err); ok {
				return fmt.Errorf("%s refused: %s", args[0], ref.Error())
			}
			return err
		}
		zap.L().Info("job dispatched", zap.String("job_id", job.ID), zap.String("stage", string(job.Type)))
		if !runWait {
			return printJSON(cmd.OutOrStdout(), job)
		}

		done := make(chan struct{})
		go func() {
			env.Runner.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			zap.L().Warn("interrupted, cancelling job", zap.String("job_id", job.ID))
			cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			_, _ = env.Runner.Cancel(cancelCtx, job.ID)
			cancel()
			<-done
		}

		final, err := env.Store.GetJob(context.WithoutCancel(ctx), job.ID)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), final); err != nil {
			return err
		}
		if final.Status == model.JobFailed {
			msg := ""
			if final.ErrorMessage != nil {
				msg = *final.ErrorMessage
			}
			return eris.Errorf("job %s failed: %s", final.ID, msg)
		}
		return nil
	},
}

func dispatchStage(ctx context.Context, d *dispatch.Dispatcher, jobType model.JobType, cmd *cobra.Command) (*model.Job, error) {
	switch jobType {
	case model.JobDiscover, model.JobSocialDiscover:
		p := model.DiscoverParams{
			Categories: runCategories,
			Locations:  runLocations,
			Keywords:   runKeywords,
			MaxResults: runMaxResults,
			Platforms:  runPlatforms,
		}
		if jobType == model.JobSocialDiscover {
			return d.SocialDiscover(ctx, p)
		}
		return d.Discover(ctx, p)
	}
	req := dispatch.BatchRequest{ProspectIDs: runIDs}
	if cmd.Flags().Changed("max") {
		req.MaxProspects = &runMax
	}
	return d.Stage(ctx, jobType, req)
}

func init() {
	runCmd.Flags().StringSliceVar(&runIDs, "ids", nil, "restrict the batch to these prospect or profile ids")
	runCmd.Flags().IntVar(&runMax, "max", 0, "cap the number of prospects taken on")
	runCmd.Flags().BoolVar(&runWait, "wait", true, "run the job in this process and print its result")
	runCmd.Flags().StringSliceVar(&runCategories, "category", nil, "discover: business category (repeatable)")
	runCmd.Flags().StringSliceVar(&runLocations, "location", nil, "discover: location (repeatable)")
	runCmd.Flags().StringVar(&runKeywords, "keywords", "", "discover: extra search keywords")
	runCmd.Flags().IntVar(&runMaxResults, "max-results", 0, "discover: results per query")
	runCmd.Flags().StringSliceVar(&runPlatforms, "platform", nil, "social-discover: platform (repeatable)")
	rootCmd.AddCommand(runCmd)
}
