package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/index"
	"github.com/dmitrijs2005/glacierkeeper/internal/validate"
)

func (a *App) rmArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "rmarchive",
		Usage:     "remove an archive and its bookkeeping records",
		ArgsUsage: "<vault> <archiveId>",
		Action:    a.rmArchive,
	}
}

func (a *App) searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search the bookkeeping index by filename or description prefix",
		ArgsUsage: "[term]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "vault"},
			&cli.StringFlag{Name: "region"},
		},
		Action: a.search,
	}
}

func (a *App) listMultipartsCommand() *cli.Command {
	return &cli.Command{Name: "listmultiparts", Usage: "list unfinished multipart uploads", ArgsUsage: "<vault>", Action: a.listMultiparts}
}

func (a *App) abortMultipartCommand() *cli.Command {
	return &cli.Command{Name: "abortmultipart", Usage: "abort a multipart upload", ArgsUsage: "<vault> <uploadId>", Action: a.abortMultipart}
}

func (a *App) rmArchive(c *cli.Context) error {
	const op = "rmarchive"
	ctx := c.Context

	vault, err := vaultArg(c, op)
	if err != nil {
		return err
	}
	archiveID := c.Args().Get(1)
	if err := validate.ArchiveID(archiveID); err != nil {
		return err
	}

	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	if err := client.DeleteArchive(ctx, vault, archiveID); err != nil {
		return err
	}
	a.logger.Info(ctx, "archive removed", "vault", vault, "archive_id", archiveID)

	repo, err := a.bookkeeping(ctx)
	if err != nil {
		fmt.Fprintf(a.Stderr, "warning: archive %s removed but the bookkeeping index is unavailable: %v\n", archiveID, err)
		return nil
	}
	if repo == nil {
		return nil
	}
	n, err := repo.DeleteByArchiveID(ctx, archiveID)
	if err != nil {
		fmt.Fprintf(a.Stderr, "warning: archive %s removed but its bookkeeping records were not: %v\n", archiveID, err)
		return nil
	}
	a.logger.Info(ctx, "bookkeeping records removed", "archive_id", archiveID, "count", n)
	return nil
}

func (a *App) search(c *cli.Context) error {
	const op = "search"
	ctx := c.Context

	repo, err := a.requireBookkeeping(ctx, op)
	if err != nil {
		return err
	}

	q := index.Query{Region: c.String("region"), Vault: c.String("vault"), Prefix: c.Args().First()}
	recs, err := repo.QueryByPrefix(ctx, q)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var headers []string
	if q.Region == "" {
		headers = append(headers, "Region")
	}
	if q.Vault == "" {
		headers = append(headers, "Vault")
	}
	headers = append(headers, "Filename", "Archive ID")

	t := newTable(a.Stdout, headers...)
	for _, r := range recs {
		var cells []string
		if q.Region == "" {
			cells = append(cells, r.Region)
		}
		if q.Vault == "" {
			cells = append(cells, r.Vault)
		}
		t.row(append(cells, r.Filename, r.ArchiveID)...)
	}
	return t.flush()
}

func (a *App) listMultiparts(c *cli.Context) error {
	ctx := c.Context

	vault, err := vaultArg(c, "listmultiparts")
	if err != nil {
		return err
	}
	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	uploads, err := client.ListMultipartUploads(ctx, vault)
	if err != nil {
		return err
	}
	if len(uploads) == 0 {
		return nil
	}

	f := a.format()
	t := newTable(a.Stdout, "MultipartUploadId", "ArchiveDescription", "CreationDate", "PartSizeInBytes", "VaultARN")
	for _, u := range uploads {
		t.row(u.ID, u.Description, formatTime(u.CreationDate), f.Integer(uint64(u.PartSize)), u.VaultARN)
	}
	return t.flush()
}

func (a *App) abortMultipart(c *cli.Context) error {
	const op = "abortmultipart"
	ctx := c.Context

	vault, err := vaultArg(c, op)
	if err != nil {
		return err
	}
	uploadID := c.Args().Get(1)
	if uploadID == "" {
		return common.Validation(op, "missing upload id")
	}

	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	if err := client.AbortMultipartUpload(ctx, vault, uploadID); err != nil {
		return err
	}
	a.logger.Info(ctx, "multipart upload aborted", "vault", vault, "upload_id", uploadID)
	return nil
}
