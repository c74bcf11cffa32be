package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
)

// StatusAction fetches the current progress of a job once.
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	jobID := cmd.String("job-id")
	job, err := app.Client.GetProgress(ctx, jobID, app.Token(cmd.String("token")))
	if err != nil {
		return fmt.Errorf("fetch progress of job %s: %w", jobID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

// JobsAction lists locally tracked jobs, after pruning finished ones when
// --prune is set.
func JobsAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	if cmd.Bool("prune") {
		n, err := app.Orchestrator.PruneJobs(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d job records\n", n)
	}

	records, err := app.Orchestrator.TrackedJobs(ctx, cmd.Bool("active"))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No tracked jobs")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tTRACKING\tSTATUS\tPROGRESS\tBOOKS\tUPDATED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%d/%d\t%s\n",
			rec.JobID, rec.Tracking, rec.Status, rec.Progress,
			rec.ProcessedBooks, rec.TotalBooks, rec.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// ProbeAction checks that the generation service is reachable.
func ProbeAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	path, err := app.Prober.Probe(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Generation service reachable at %s%s\n", app.Config.API.BaseURL, path)
	return nil
}
