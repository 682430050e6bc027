// Package common contains shared constants and the error taxonomy used across
// glacierkeeper components.
package common

const (
	// MiB is the unit all part sizes are expressed in.
	MiB uint64 = 1 << 20

	// MaxParts is the largest number of parts a multipart upload may have.
	MaxParts uint64 = 10000

	// MaxPartSize is the largest part size the service accepts (4 GiB).
	MaxPartSize uint64 = 4096 * MiB

	// DefaultPartSize is used when the input size is unknown and no override
	// was given.
	DefaultPartSize uint64 = 128 * MiB

	// MaxDescriptionLen is the limit on archive descriptions, in bytes.
	MaxDescriptionLen = 1024

	// MaxVaultNameLen is the limit on vault names, in characters.
	MaxVaultNameLen = 255
)
