package config

import (
	"strconv"
	"time"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

// parseEnv overlays cfg with the AWS_* and GLACIER_* variables that are set.
func parseEnv(cfg *Config, getenv func(string) string) error {
	const op = "read environment"

	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&cfg.AWSAccessKey, "AWS_ACCESS_KEY_ID")
	setString(&cfg.AWSSecretKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.AWSSessionToken, "AWS_SESSION_TOKEN")
	setString(&cfg.Region, "GLACIER_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	setString(&cfg.Endpoint, "GLACIER_ENDPOINT")
	setString(&cfg.S3Endpoint, "GLACIER_S3_ENDPOINT")
	setString(&cfg.BookkeepingBackend, "GLACIER_BOOKKEEPING_BACKEND")
	setString(&cfg.BookkeepingDSN, "GLACIER_BOOKKEEPING_DSN")
	setString(&cfg.LogLevel, "GLACIER_LOG_LEVEL")
	setString(&cfg.LogFormat, "GLACIER_LOG_FORMAT")

	if v := getenv("GLACIER_BOOKKEEPING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return common.Validationf(op, "GLACIER_BOOKKEEPING=%q: %v", v, err)
		}
		cfg.Bookkeeping = b
	}

	if v := getenv("GLACIER_PARTSIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return common.Validationf(op, "GLACIER_PARTSIZE=%q: %v", v, err)
		}
		cfg.PartSizeMiB = n
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"GLACIER_RETRIES", &cfg.PartRetries},
		{"GLACIER_CONCURRENCY", &cfg.Concurrency},
	}
	for _, i := range ints {
		if v := getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return common.Validationf(op, "%s=%q: %v", i.key, v, err)
			}
			*i.dst = n
		}
	}

	if v := getenv("GLACIER_INVENTORY_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return common.Validationf(op, "GLACIER_INVENTORY_MAX_AGE=%q: %v", v, err)
		}
		cfg.InventoryMaxAge = d
	}

	return nil
}
