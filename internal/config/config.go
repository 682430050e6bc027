package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds runtime settings for the glacier CLI.
type Config struct {
	AWSAccessKey    string
	AWSSecretKey    string
	AWSSessionToken string
	Region          string
	Endpoint        string
	// S3Endpoint overrides the endpoint used when exporting to S3.
	S3Endpoint      string

	Bookkeeping        bool
	BookkeepingBackend string
	BookkeepingDSN     string

	PartSizeMiB     uint64
	PartRetries     int
	Concurrency     int
	DownloadChunk   int
	InventoryMaxAge time.Duration

	LogLevel  string
	LogFormat string

	ThousandsSep string
	Decimals     int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Region = "us-east-1"
	c.BookkeepingBackend = BackendSQLite
	c.BookkeepingDSN = defaultIndexPath()
	c.PartSizeMiB = common.DefaultPartSize / common.MiB
	c.PartRetries = 0
	c.Concurrency = 1
	c.DownloadChunk = int(4 * common.MiB)
	c.InventoryMaxAge = 24 * time.Hour
	c.LogLevel = "info"
	c.LogFormat = "auto"
	c.ThousandsSep = ","
	c.Decimals = 1
}

func defaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".glacier", "index.db")
	}
	return filepath.Join(home, ".glacier", "index.db")
}

// Options selects where Load looks for settings.
type Options struct {
	// ConfigPath is an explicit JSON file; it must exist when set.
	ConfigPath string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// SearchPaths are tried in order when ConfigPath is empty; the first
	// existing file is used.
	SearchPaths []string
	// Overrides applies command-line flags last.
	Overrides func(*Config)
}

// DefaultSearchPaths returns .glacier.json in the working directory and in
// the user's home directory.
func DefaultSearchPaths() []string {
	paths := []string{".glacier.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".glacier.json"))
	}
	return paths
}

// Load constructs a Config, applies defaults, then overlays the environment,
// the JSON file and flags. Later sources take precedence over earlier ones.
func Load(opts Options) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := parseEnv(cfg, getenv); err != nil {
		return nil, err
	}

	path, err := resolveConfigPath(opts.ConfigPath, opts.SearchPaths)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := parseJson(cfg, path); err != nil {
			return nil, err
		}
	}

	if opts.Overrides != nil {
		opts.Overrides(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveConfigPath(explicit string, search []string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", common.Validationf("load config", "config file %s: %v", explicit, err)
		}
		return explicit, nil
	}

	for _, p := range search {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", nil
}

// Validate checks values that cannot be fixed up silently.
func (c *Config) Validate() error {
	const op = "validate config"

	switch c.BookkeepingBackend {
	case BackendSQLite, BackendPostgres:
	default:
		return common.Validationf(op, "unknown bookkeeping backend %q", c.BookkeepingBackend)
	}
	if c.PartRetries < 0 {
		return common.Validation(op, "part retries must not be negative")
	}
	if c.Concurrency < 1 {
		return common.Validation(op, "concurrency must be at least 1")
	}
	if c.DownloadChunk < 1 {
		return common.Validation(op, "download chunk size must be positive")
	}
	if c.InventoryMaxAge <= 0 {
		return common.Validation(op, "inventory max age must be positive")
	}
	if c.Decimals < 0 || c.Decimals > 8 {
		return common.Validation(op, "decimals must be between 0 and 8")
	}
	if len([]rune(c.ThousandsSep)) > 1 {
		return common.Validation(op, "thousands separator must be a single character")
	}
	return nil
}
