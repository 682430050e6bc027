package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

func (a *App) listJobsCommand() *cli.Command {
	return &cli.Command{Name: "listjobs", Usage: "list retrieval jobs of a vault", ArgsUsage: "<vault>", Action: a.listJobs}
}

func (a *App) describeJobCommand() *cli.Command {
	return &cli.Command{Name: "describejob", Usage: "describe a retrieval job", ArgsUsage: "<vault> <jobId>", Action: a.describeJob}
}

func (a *App) listJobs(c *cli.Context) error {
	ctx := c.Context

	vault, err := vaultArg(c, "listjobs")
	if err != nil {
		return err
	}
	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	jobs, err := client.ListJobs(ctx, vault)
	if err != nil {
		return err
	}

	t := newTable(a.Stdout, "Action", "Archive ID", "Status", "Initiated", "Completed", "Job ID")
	for _, j := range jobs {
		t.row(string(j.Kind), dash(j.ArchiveID), string(j.Status), formatTime(j.CreationDate), formatTime(j.CompletionDate), j.ID)
	}
	return t.flush()
}

func (a *App) describeJob(c *cli.Context) error {
	const op = "describejob"
	ctx := c.Context

	vault, err := vaultArg(c, op)
	if err != nil {
		return err
	}
	jobID := c.Args().Get(1)
	if jobID == "" {
		return common.Validation(op, "missing job id")
	}

	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	j, err := client.DescribeJob(ctx, vault, jobID)
	if err != nil {
		return err
	}

	a.printf("Archive ID: %s\n", dash(j.ArchiveID))
	a.printf("Job ID: %s\n", j.ID)
	a.printf("Action: %s\n", j.Kind)
	a.printf("Created: %s\n", formatTime(j.CreationDate))
	a.printf("Status: %s\n", j.Status)
	if j.StatusMessage != "" {
		a.printf("Status message: %s\n", j.StatusMessage)
	}
	if j.Completed {
		a.printf("Completed: %s\n", formatTime(j.CompletionDate))
	}
	if j.TreeHash != "" {
		a.printf("SHA256 tree hash: %s\n", j.TreeHash)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
