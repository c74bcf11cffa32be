package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// GenerateAction starts generation of all pending books and follows the job
// until it finishes.
func GenerateAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	printer := newEventPrinter(os.Stdout, cmd.Bool("json"))
	res, err := app.Orchestrator.RunJob(ctx, app.Token(cmd.String("token")), printer.listener())
	if res != nil && !cmd.Bool("json") {
		printResult(os.Stdout, res)
	}
	if err != nil {
		return fmt.Errorf("book generation failed: %w", err)
	}
	return nil
}

// ResumeAction resumes tracking of one job, or of every active job when no
// job id is given.
func ResumeAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	asJSON := cmd.Bool("json")
	printer := newEventPrinter(os.Stdout, asJSON)
	token := app.Token(cmd.String("token"))

	if jobID := cmd.String("job-id"); jobID != "" {
		res, err := app.Orchestrator.ResumeJob(ctx, jobID, token, printer.listener())
		if res != nil && !asJSON {
			printResult(os.Stdout, res)
		}
		if err != nil {
			return fmt.Errorf("resume job %s: %w", jobID, err)
		}
		return nil
	}

	results, err := app.Orchestrator.ResumeAll(ctx, token, int(cmd.Int("parallel")), printer.listener())
	if err != nil {
		return fmt.Errorf("resume tracked jobs: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No active jobs to resume")
		return nil
	}
	if !asJSON {
		for _, res := range results {
			if res != nil {
				printResult(os.Stdout, res)
			}
		}
	}
	return nil
}
