package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

// Duration unmarshals from "24h"-style strings or integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	return fmt.Errorf("invalid duration %s", string(b))
}

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields let absent keys leave earlier values alone.
type JsonConfig struct {
	AWSAccessKey       *string   `json:"aws_access_key"`
	AWSSecretKey       *string   `json:"aws_secret_key"`
	AWSSessionToken    *string   `json:"aws_session_token"`
	Region             *string   `json:"region"`
	Endpoint           *string   `json:"endpoint"`
	S3Endpoint         *string   `json:"s3_endpoint"`
	Bookkeeping        *bool     `json:"bookkeeping"`
	BookkeepingBackend *string   `json:"bookkeeping_backend"`
	BookkeepingDSN     *string   `json:"bookkeeping_dsn"`
	PartSizeMiB        *uint64   `json:"part_size_mib"`
	PartRetries        *int      `json:"part_retries"`
	Concurrency        *int      `json:"concurrency"`
	DownloadChunk      *int      `json:"download_chunk"`
	InventoryMaxAge    *Duration `json:"inventory_max_age"`
	LogLevel           *string   `json:"log_level"`
	LogFormat          *string   `json:"log_format"`
	ThousandsSep       *string   `json:"thousands_sep"`
	Decimals           *int      `json:"decimals"`
}

// parseJson overlays cfg with the keys present in the JSON file at path.
func parseJson(cfg *Config, path string) error {
	const op = "load config"

	data, err := os.ReadFile(path)
	if err != nil {
		return common.Validationf(op, "read %s: %v", path, err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return common.Validationf(op, "parse %s: %v", path, err)
	}

	jc.apply(cfg)
	return nil
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}

	setString(&cfg.AWSAccessKey, jc.AWSAccessKey)
	setString(&cfg.AWSSecretKey, jc.AWSSecretKey)
	setString(&cfg.AWSSessionToken, jc.AWSSessionToken)
	setString(&cfg.Region, jc.Region)
	setString(&cfg.Endpoint, jc.Endpoint)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.BookkeepingBackend, jc.BookkeepingBackend)
	setString(&cfg.BookkeepingDSN, jc.BookkeepingDSN)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.ThousandsSep, jc.ThousandsSep)

	setInt(&cfg.PartRetries, jc.PartRetries)
	setInt(&cfg.Concurrency, jc.Concurrency)
	setInt(&cfg.DownloadChunk, jc.DownloadChunk)
	setInt(&cfg.Decimals, jc.Decimals)

	if jc.Bookkeeping != nil {
		cfg.Bookkeeping = *jc.Bookkeeping
	}
	if jc.PartSizeMiB != nil {
		cfg.PartSizeMiB = *jc.PartSizeMiB
	}
	if jc.InventoryMaxAge != nil {
		cfg.InventoryMaxAge = time.Duration(*jc.InventoryMaxAge)
	}
}
