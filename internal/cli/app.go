package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/glacierkeeper/internal/awsx"
	"github.com/dmitrijs2005/glacierkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/config"
	"github.com/dmitrijs2005/glacierkeeper/internal/glacier"
	"github.com/dmitrijs2005/glacierkeeper/internal/index"
	"github.com/dmitrijs2005/glacierkeeper/internal/logging"
	"github.com/dmitrijs2005/glacierkeeper/internal/progress"
	"github.com/dmitrijs2005/glacierkeeper/internal/retrieval"
)

// App carries the resolved configuration and the lazily built service
// client and bookkeeping index shared by all commands.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	Clock  func() time.Time

	// SearchPaths are the config files tried when --config is not given.
	SearchPaths []string

	NewClient func(ctx context.Context, s awsx.Settings) (glacier.Client, error)
	OpenIndex func(ctx context.Context, backend, dsn string) (index.Repository, func() error, error)
	NewS3Sink func(ctx context.Context, s awsx.Settings, url string) (retrieval.Sink, error)

	cfg        *config.Config
	logger     logging.Logger
	client     glacier.Client
	index      index.Repository
	closeIndex func() error
}

// New returns an App wired to the process streams and the AWS SDK.
func New() *App {
	return &App{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Getenv:      os.Getenv,
		Clock:       time.Now,
		SearchPaths: config.DefaultSearchPaths(),
		NewClient: func(ctx context.Context, s awsx.Settings) (glacier.Client, error) {
			return glacier.NewSDKClient(ctx, s)
		},
		OpenIndex: index.Open,
		NewS3Sink: func(ctx context.Context, s awsx.Settings, url string) (retrieval.Sink, error) {
			return retrieval.NewS3Sink(ctx, s, url)
		},
	}
}

// Run parses args (including the program name) and executes the selected
// command.
func (a *App) Run(ctx context.Context, args []string) error {
	defer a.close()
	return a.cliApp().RunContext(ctx, args)
}

func (a *App) cliApp() *cli.App {
	return &cli.App{
		Name:                 "glacier",
		Usage:                "upload to and retrieve from Amazon Glacier vaults",
		Version:              buildinfo.Version,
		Writer:               a.Stdout,
		ErrWriter:            a.Stderr,
		Flags:                globalFlags(),
		Before:               a.before,
		Commands:             a.commands(),
		EnableBashCompletion: true,
		// main maps errors to exit codes itself
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func (a *App) commands() []*cli.Command {
	return []*cli.Command{
		a.uploadCommand(),
		a.getArchiveCommand(),
		a.downloadCommand(),
		a.inventoryCommand(),
		a.lsVaultCommand(),
		a.mkVaultCommand(),
		a.rmVaultCommand(),
		a.describeVaultCommand(),
		a.listJobsCommand(),
		a.describeJobCommand(),
		a.rmArchiveCommand(),
		a.searchCommand(),
		a.listMultipartsCommand(),
		a.abortMultipartCommand(),
		{
			Name:  "version",
			Usage: "print build information",
			Action: func(*cli.Context) error {
				buildinfo.PrintBuildData(a.Stdout)
				return nil
			},
		},
	}
}

func (a *App) before(c *cli.Context) error {
	cfg, err := config.Load(config.Options{
		ConfigPath:  c.String("config"),
		Getenv:      a.Getenv,
		SearchPaths: a.SearchPaths,
		Overrides:   func(cfg *config.Config) { applyGlobalFlags(c, cfg) },
	})
	if err != nil {
		return err
	}

	logger, err := logging.New(a.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return common.Validationf("configure logging", "%v", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *App) close() {
	if a.closeIndex == nil {
		return
	}
	if err := a.closeIndex(); err != nil && a.logger != nil {
		a.logger.Warn(context.Background(), "closing bookkeeping index", "error", err)
	}
	a.index, a.closeIndex = nil, nil
}

func (a *App) settings() awsx.Settings {
	return awsx.Settings{
		Region:       a.cfg.Region,
		AccessKey:    a.cfg.AWSAccessKey,
		SecretKey:    a.cfg.AWSSecretKey,
		SessionToken: a.cfg.AWSSessionToken,
		Endpoint:     a.cfg.Endpoint,
	}
}

func (a *App) glacierClient(ctx context.Context) (glacier.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := a.NewClient(ctx, a.settings())
	if err != nil {
		return nil, fmt.Errorf("create glacier client: %w", err)
	}
	a.client = client
	return client, nil
}

// bookkeeping returns the index, or nil when bookkeeping is disabled.
func (a *App) bookkeeping(ctx context.Context) (index.Repository, error) {
	if !a.cfg.Bookkeeping {
		return nil, nil
	}
	if a.index != nil {
		return a.index, nil
	}
	repo, closer, err := a.OpenIndex(ctx, a.cfg.BookkeepingBackend, a.cfg.BookkeepingDSN)
	if err != nil {
		return nil, err
	}
	a.index, a.closeIndex = repo, closer
	return repo, nil
}

const bookkeepingDisabled = "bookkeeping is disabled; set GLACIER_BOOKKEEPING=true or pass --bookkeeping"

func (a *App) requireBookkeeping(ctx context.Context, op string) (index.Repository, error) {
	repo, err := a.bookkeeping(ctx)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, common.Validation(op, bookkeepingDisabled)
	}
	return repo, nil
}

func (a *App) format() progress.Format {
	return progress.Format{
		ThousandsSep: a.cfg.ThousandsSep,
		Decimals:     a.cfg.Decimals,
		Clock:        a.Clock,
		TimeLayout:   time.TimeOnly,
	}
}

func (a *App) coordinator(ctx context.Context, withIndex bool) (*retrieval.Coordinator, error) {
	client, err := a.glacierClient(ctx)
	if err != nil {
		return nil, err
	}
	coord := &retrieval.Coordinator{
		Client:          client,
		Logger:          a.logger,
		Clock:           a.Clock,
		MaxInventoryAge: a.cfg.InventoryMaxAge,
		ChunkSize:       a.cfg.DownloadChunk,
		Region:          a.cfg.Region,
	}
	if withIndex {
		repo, err := a.bookkeeping(ctx)
		if err != nil {
			return nil, err
		}
		coord.Index = repo
	}
	return coord, nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Stdout, format, args...)
}

func (a *App) println(args ...any) {
	fmt.Fprintln(a.Stdout, args...)
}
