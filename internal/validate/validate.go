// Package validate checks user input before anything is sent to the service.
package validate

import (
	"regexp"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

var vaultNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// VaultName accepts 1 to 255 characters from [A-Za-z0-9._-].
func VaultName(name string) error {
	const op = "validate vault name"

	switch {
	case len(name) == 0:
		return common.Validation(op, "vault name has to be at least 1 character long")
	case len(name) > common.MaxVaultNameLen:
		return common.Validationf(op, "vault name can be at most %d characters long", common.MaxVaultNameLen)
	case !vaultNameRe.MatchString(name):
		return common.Validation(op, "allowed characters are a-z, A-Z, 0-9, '_' (underscore), '-' (hyphen) and '.' (period)")
	}

	return nil
}

// Description accepts up to 1024 bytes of printable 7-bit ASCII (0x20-0x7E).
func Description(desc string) error {
	const op = "validate description"

	if len(desc) > common.MaxDescriptionLen {
		return common.Validationf(op, "description must be at most %d bytes, got %d", common.MaxDescriptionLen, len(desc))
	}

	for i := 0; i < len(desc); i++ {
		if c := desc[i]; c < 0x20 || c > 0x7e {
			return common.Validationf(op, "byte 0x%02x at offset %d is not printable ASCII (0x20-0x7E)", c, i)
		}
	}

	return nil
}

// ArchiveID rejects empty identifiers.
func ArchiveID(id string) error {
	if id == "" {
		return common.Validation("validate archive id", "archive id must not be empty")
	}
	return nil
}
