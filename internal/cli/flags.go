package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/glacierkeeper/internal/config"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "JSON config file"},
		&cli.StringFlag{Name: "region", Usage: "AWS region"},
		&cli.StringFlag{Name: "endpoint", Usage: "Glacier endpoint override"},
		&cli.StringFlag{Name: "s3-endpoint", Usage: "S3 endpoint override for s3:// outputs"},
		&cli.StringFlag{Name: "aws-access-key"},
		&cli.StringFlag{Name: "aws-secret-key"},
		&cli.BoolFlag{Name: "bookkeeping", Usage: "record uploads in the bookkeeping index"},
		&cli.StringFlag{Name: "bookkeeping-backend", Usage: "sqlite or postgres"},
		&cli.StringFlag{Name: "bookkeeping-dsn", Usage: "index database path or connection string"},
		&cli.IntFlag{Name: "retries", Usage: "extra attempts per failed part"},
		&cli.IntFlag{Name: "concurrency", Usage: "parts uploaded in parallel"},
		&cli.DurationFlag{Name: "inventory-max-age", Usage: "age after which an inventory is refreshed"},
		&cli.StringFlag{Name: "log-level"},
		&cli.StringFlag{Name: "log-format", Usage: "text, json or auto"},
	}
}

// applyGlobalFlags copies the flags the user actually passed over cfg.
func applyGlobalFlags(c *cli.Context, cfg *config.Config) {
	strs := []struct {
		name string
		dst  *string
	}{
		{"region", &cfg.Region},
		{"endpoint", &cfg.Endpoint},
		{"s3-endpoint", &cfg.S3Endpoint},
		{"aws-access-key", &cfg.AWSAccessKey},
		{"aws-secret-key", &cfg.AWSSecretKey},
		{"bookkeeping-backend", &cfg.BookkeepingBackend},
		{"bookkeeping-dsn", &cfg.BookkeepingDSN},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
	}
	for _, s := range strs {
		if c.IsSet(s.name) {
			*s.dst = c.String(s.name)
		}
	}

	if c.IsSet("bookkeeping") {
		cfg.Bookkeeping = c.Bool("bookkeeping")
	}
	if c.IsSet("retries") {
		cfg.PartRetries = c.Int("retries")
	}
	if c.IsSet("concurrency") {
		cfg.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("inventory-max-age") {
		cfg.InventoryMaxAge = c.Duration("inventory-max-age")
	}
}
