package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/index"
	"github.com/dmitrijs2005/glacierkeeper/internal/retrieval"
)

func outFlag() cli.Flag {
	return &cli.StringFlag{Name: "out", Usage: "upload the retrieved data to s3://bucket/key instead"}
}

func (a *App) getArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "getarchive",
		Usage:     "retrieve an archive by id, starting a retrieval job when needed",
		ArgsUsage: "<vault> <archiveId> [file]",
		Description: "Each run looks at the vault's jobs for the archive. With none a retrieval job is started,\n" +
			"a running one is reported and a finished one is downloaded and verified.\n" +
			"When the newest job for the archive has failed, a new retrieval job is started in its place.",
		Flags:  []cli.Flag{outFlag()},
		Action: a.getArchive,
	}
}

func (a *App) downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "retrieve an archive found in the bookkeeping index by filename or description",
		ArgsUsage: "<search term>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "vault", Usage: "only consider archives in this vault"},
			&cli.StringFlag{Name: "region", Usage: "only consider archives in this region"},
			&cli.StringFlag{Name: "out-file", Usage: "write the archive to this file"},
			outFlag(),
		},
		Action: a.download,
	}
}

func (a *App) inventoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "inventory",
		Usage:     "show the latest vault inventory, requesting a new one when needed",
		ArgsUsage: "<vault>",
		Description: "Shows the freshest finished inventory job. When none is listed any more, the copy stored\n" +
			"in the bookkeeping index is shown while a new job runs.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "start a new inventory job"},
		},
		Action: a.inventory,
	}
}

// sink picks the destination for retrieved data: S3 when s3url is set, a
// file when path is set, stdout otherwise.
func (a *App) sink(ctx context.Context, s3url, path string) (retrieval.Sink, error) {
	if s3url != "" {
		s := a.settings()
		s.Endpoint = a.cfg.S3Endpoint
		return a.NewS3Sink(ctx, s, s3url)
	}
	if path != "" {
		return retrieval.NewFileSink(path), nil
	}
	return retrieval.NewWriterSink(a.Stdout), nil
}

// statusWriter keeps messages out of the data stream when the data goes to
// stdout.
func (a *App) statusWriter(sink retrieval.Sink) io.Writer {
	if _, ok := sink.(*retrieval.WriterSink); ok {
		return a.Stderr
	}
	return a.Stdout
}

func (a *App) reportArchive(w io.Writer, archiveID string, out retrieval.ArchiveOutcome, sink retrieval.Sink) {
	switch out.State {
	case retrieval.StateStarted:
		fmt.Fprintf(w, "Started retrieval job %s for archive %s. Run the command again once it has completed.\n", out.JobID, archiveID)
	case retrieval.StatePending:
		fmt.Fprintf(w, "Retrieval job %s for archive %s is still in progress.\n", out.JobID, archiveID)
	case retrieval.StateFailed:
		fmt.Fprintf(w, "Retrieval job %s failed: %s. Started job %s instead.\n", out.FailedJobID, out.StatusMessage, out.JobID)
	case retrieval.StateFetched:
		fmt.Fprintf(w, "Wrote %s bytes of archive %s to %s.\n", a.format().Integer(uint64(out.Bytes)), archiveID, sink)
	}
}

func (a *App) getArchive(c *cli.Context) error {
	const op = "getarchive"
	ctx := c.Context

	if c.NArg() < 2 {
		return common.Validation(op, "usage: getarchive [--out s3://bucket/key] <vault> <archiveId> [file]")
	}
	vault, archiveID, path := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
	if path != "" && c.String("out") != "" {
		return common.Validation(op, "give either a file or --out, not both")
	}

	coord, err := a.coordinator(ctx, false)
	if err != nil {
		return err
	}
	sink, err := a.sink(ctx, c.String("out"), path)
	if err != nil {
		return err
	}

	out, err := coord.Archive(ctx, vault, archiveID, sink)
	if err != nil {
		return err
	}
	a.reportArchive(a.statusWriter(sink), archiveID, out, sink)
	return nil
}

func (a *App) download(c *cli.Context) error {
	const op = "download"
	ctx := c.Context

	term := c.Args().First()
	if term == "" {
		return common.Validation(op, "give the filename, or the start of the description, of the archive to download")
	}
	if c.String("out-file") != "" && c.String("out") != "" {
		return common.Validation(op, "give either --out-file or --out, not both")
	}

	if _, err := a.requireBookkeeping(ctx, op); err != nil {
		return err
	}
	coord, err := a.coordinator(ctx, true)
	if err != nil {
		return err
	}
	sink, err := a.sink(ctx, c.String("out"), c.String("out-file"))
	if err != nil {
		return err
	}

	q := index.Query{Region: c.String("region"), Vault: c.String("vault"), Prefix: term}
	out, rec, err := coord.Download(ctx, q, sink)
	if err != nil {
		return err
	}

	w := a.statusWriter(sink)
	t := newTable(w, "Region", "Vault", "Filename", "Archive ID")
	t.row(rec.Region, rec.Vault, rec.Filename, rec.ArchiveID)
	if err := t.flush(); err != nil {
		return err
	}
	a.reportArchive(w, rec.ArchiveID, out, sink)
	return nil
}

func (a *App) inventory(c *cli.Context) error {
	const op = "inventory"
	ctx := c.Context

	vault := c.Args().First()
	if vault == "" {
		return common.Validation(op, "usage: inventory [--force] <vault>")
	}

	coord, err := a.coordinator(ctx, true)
	if err != nil {
		return err
	}

	out, err := coord.Inventory(ctx, vault, c.Bool("force"), nil)
	if err != nil {
		return err
	}

	if out.Inventory == nil {
		switch {
		case out.Started:
			a.printf("Started inventory job %s. Run the command again once it has completed.\n", out.StartedJobID)
		case out.PendingJobID != "":
			a.printf("Inventory job %s is still in progress.\n", out.PendingJobID)
		}
		return nil
	}

	a.printf("Inventory with JobId: %s\n", out.JobID)
	switch {
	case out.Cached && out.Started:
		a.printf("No finished inventory job is listed, showing the stored copy; started inventory job %s.\n", out.StartedJobID)
	case out.Cached && out.PendingJobID != "":
		a.printf("No finished inventory job is listed, showing the stored copy; inventory job %s is in progress.\n", out.PendingJobID)
	case out.Stale && out.Started:
		a.printf("This inventory is older than %s; started refresh job %s.\n", a.cfg.InventoryMaxAge, out.StartedJobID)
	case out.Stale && out.PendingJobID != "":
		a.printf("This inventory is older than %s; refresh job %s is in progress.\n", a.cfg.InventoryMaxAge, out.PendingJobID)
	}
	return a.renderInventory(out.Inventory)
}

func (a *App) renderInventory(inv *retrieval.Inventory) error {
	f := a.format()

	a.printf("Inventory of vault: %s\n", inv.VaultARN)
	a.printf("Inventory Date: %s\n\n", formatTime(inv.InventoryDate))
	a.println("Content:")

	t := newTable(a.Stdout, "Archive Description", "Uploaded", "Size", "Archive ID", "SHA256 hash")
	for _, ar := range inv.ArchiveList {
		t.row(ar.Description, formatTime(ar.CreationDate), f.Integer(uint64(ar.Size)), ar.ArchiveID, ar.SHA256TreeHash)
	}
	return t.flush()
}
