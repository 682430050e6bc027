package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/filex"
	"github.com/dmitrijs2005/glacierkeeper/internal/partsize"
	"github.com/dmitrijs2005/glacierkeeper/internal/progress"
	"github.com/dmitrijs2005/glacierkeeper/internal/upload"
)

func (a *App) uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "upload a file, or stdin, as a new archive",
		ArgsUsage: "<vault> <file|-> [description...]",
		Description: "Part size is in MiB and is rounded up to the next power of two. " +
			"Without --partsize the smallest size that keeps the archive within 10,000 parts is used, " +
			"or the configured default when the input size is unknown.",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "partsize", Usage: "part size in MiB"},
			&cli.StringFlag{Name: "name", Usage: "filename to record in the bookkeeping index"},
			&cli.BoolFlag{Name: "stdin", Usage: "read the archive from standard input"},
		},
		Action: a.upload,
	}
}

func (a *App) upload(c *cli.Context) error {
	const op = "upload"
	ctx := c.Context

	args := c.Args().Slice()
	if len(args) < 2 {
		return common.Validation(op, "usage: upload [--partsize N] [--name NAME] [--stdin] <vault> <file|-> [description...]")
	}
	vault, source := args[0], args[1]
	fromStdin := c.Bool("stdin") || source == "-"

	description := strings.Join(args[2:], " ")
	if description == "" && source != "-" {
		description = source
	}

	filename := c.String("name")
	switch {
	case filename != "":
	case fromStdin:
		filename = description
	default:
		filename = source
	}

	repo, err := a.bookkeeping(ctx)
	if err != nil {
		return err
	}
	if repo != nil && filename == "" {
		return common.Validation(op, "give a description or --name so the upload can be recorded in the bookkeeping index")
	}

	var in *filex.Input
	if fromStdin {
		in, err = filex.FromStdin(a.Stdin)
	} else {
		in, err = filex.Open(source)
	}
	if err != nil {
		return err
	}
	defer in.Close()

	var override *uint64
	if c.IsSet("partsize") {
		v := c.Uint64("partsize")
		override = &v
	}

	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}

	printer := progress.NewPrinter(a.Stdout, in.Size, in.SizeKnown, a.format())

	sess, err := upload.New(ctx, upload.Params{
		Vault:       vault,
		Description: description,
		Filename:    filename,
		Region:      a.cfg.Region,
		Size:        in.Size,
		SizeKnown:   in.SizeKnown,
		PartSizeMiB: override,
	}, upload.Deps{
		Client:      client,
		Index:       repo,
		Logger:      a.logger,
		Selector:    partsize.NewSelector(a.cfg.PartSizeMiB * common.MiB),
		Progress:    printer,
		Clock:       a.Clock,
		Retries:     a.cfg.PartRetries,
		Concurrency: a.cfg.Concurrency,
	})
	if err != nil {
		return err
	}

	res, err := sess.Upload(ctx, in)
	if err != nil {
		return err
	}
	summary := printer.Finish()
	a.logger.Info(ctx, "upload finished", "archive_id", res.ArchiveID, "summary", summary)

	a.printf("Created archive with ID: %s\n", res.ArchiveID)
	a.printf("Archive SHA256 tree hash: %s\n", res.TreeHash)
	if res.IndexErr != nil {
		fmt.Fprintf(a.Stderr, "warning: archive %s is stored but was not recorded in the bookkeeping index: %v\n", res.ArchiveID, res.IndexErr)
	}
	return nil
}
