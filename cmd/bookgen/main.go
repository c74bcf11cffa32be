package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"bookgen/cmd/bookgen/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "bookgen",
		Usage: "start and track book generation jobs",
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "generate all pending books and follow the job",
				Flags:  []cli.Flag{envFlag(), tokenFlag(), jsonFlag()},
				Action: commands.GenerateAction,
			},
			{
				Name:  "resume",
				Usage: "resume tracking of a job, or of every active job",
				Flags: []cli.Flag{
					envFlag(), tokenFlag(), jsonFlag(),
					&cli.StringFlag{
						Name:  "job-id",
						Usage: "job to resume (default: all active jobs)",
					},
					&cli.IntFlag{
						Name:  "parallel",
						Usage: "maximum jobs tracked at once when resuming all",
						Value: 4,
					},
				},
				Action: commands.ResumeAction,
			},
			{
				Name:  "status",
				Usage: "print the current progress of a job",
				Flags: []cli.Flag{
					envFlag(), tokenFlag(),
					&cli.StringFlag{
						Name:     "job-id",
						Usage:    "job id",
						Required: true,
					},
				},
				Action: commands.StatusAction,
			},
			{
				Name:  "jobs",
				Usage: "list locally tracked jobs",
				Flags: []cli.Flag{
					envFlag(),
					&cli.BoolFlag{
						Name:  "active",
						Usage: "only jobs that are still being tracked",
					},
					&cli.BoolFlag{
						Name:  "prune",
						Usage: "delete records of completed and stopped jobs first",
					},
				},
				Action: commands.JobsAction,
			},
			{
				Name:   "probe",
				Usage:  "check that the generation service is reachable",
				Flags:  []cli.Flag{envFlag()},
				Action: commands.ProbeAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "path to an environment file",
		Value: ".env",
	}
}

func tokenFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "token",
		Usage: "bearer token for the generation service (default: BOOKGEN_API_TOKEN)",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "print events as JSON lines",
	}
}
