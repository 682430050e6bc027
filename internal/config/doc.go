// Package config loads runtime configuration for the glacier CLI.
//
// Sources & precedence (later wins)
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Environment variables (see parseEnv).
//  3. Optional JSON file (see parseJson): the path given with --config, or
//     .glacier.json in the working directory, or ~/.glacier.json.
//  4. Command-line flags, applied by the caller through Options.Overrides.
//
// # JSON schema
//
// Durations accept strings like "24h" or integer nanoseconds:
//
//	{
//	  "aws_access_key": "AKIA...",
//	  "aws_secret_key": "...",
//	  "region": "eu-west-1",
//	  "bookkeeping": true,
//	  "bookkeeping_backend": "sqlite",
//	  "bookkeeping_dsn": "/home/me/.glacier/index.db",
//	  "part_size_mib": 128,
//	  "inventory_max_age": "24h"
//	}
//
// The configuration is resolved once at startup and passed down explicitly.
// Nothing below the CLI layer reads the environment.
package config
