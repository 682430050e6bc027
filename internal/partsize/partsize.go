// Package partsize picks the multipart upload part size.
//
// Part sizes are always a power-of-two number of MiB and are chosen so that an
// upload never needs more than common.MaxParts parts.
package partsize

import (
	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

const op = "select part size"

// NextPowerOfTwo returns the smallest power of two that is >= n.
// Zero has no such value and is rejected.
func NextPowerOfTwo(n uint64) (uint64, error) {
	if n == 0 {
		return 0, common.Validation("next power of two", "value must be positive")
	}
	if n > 1<<63 {
		return 0, common.Validationf("next power of two", "%d overflows uint64", n)
	}

	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1, nil
}

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

type Selector struct {
	// DefaultPartSize, in bytes, is used when the total size is unknown.
	DefaultPartSize uint64
}

func NewSelector(defaultPartSize uint64) *Selector {
	if defaultPartSize == 0 {
		defaultPartSize = common.DefaultPartSize
	}
	return &Selector{DefaultPartSize: defaultPartSize}
}

// Select returns the part size in bytes.
//
// known reports whether total (bytes) is meaningful. overrideMiB, when set,
// is rounded up to a power of two; if the result would still need more than
// common.MaxParts parts it is raised to the smallest size that fits.
func (s *Selector) Select(known bool, total uint64, overrideMiB *uint64) (uint64, error) {
	var mib uint64

	switch {
	case overrideMiB != nil:
		if *overrideMiB == 0 {
			return 0, common.Validation(op, "part size must be at least 1 MiB")
		}
		p, err := NextPowerOfTwo(*overrideMiB)
		if err != nil {
			return 0, err
		}
		mib = p
	case known && total > 0:
		p, err := minimumMiB(total)
		if err != nil {
			return 0, err
		}
		mib = p
	default:
		if s.DefaultPartSize%common.MiB != 0 || !IsPowerOfTwo(s.DefaultPartSize/common.MiB) {
			return 0, common.Validationf(op, "default part size %d is not a power-of-two number of MiB", s.DefaultPartSize)
		}
		mib = s.DefaultPartSize / common.MiB
	}

	if mib > common.MaxPartSize/common.MiB {
		return 0, common.Validationf(op, "part size %d MiB exceeds the %d MiB maximum", mib, common.MaxPartSize/common.MiB)
	}

	if known && total > mib*common.MiB*common.MaxParts {
		p, err := minimumMiB(total)
		if err != nil {
			return 0, err
		}
		mib = p
	}

	return mib * common.MiB, nil
}

// minimumMiB is the smallest power-of-two MiB count that keeps total within
// common.MaxParts parts.
func minimumMiB(total uint64) (uint64, error) {
	perPart := common.MiB * common.MaxParts
	need := total / perPart
	if total%perPart != 0 {
		need++
	}

	p, err := NextPowerOfTwo(need)
	if err != nil {
		return 0, err
	}
	if p > common.MaxPartSize/common.MiB {
		return 0, common.Validationf(op, "archive of %d bytes is larger than the service allows", total)
	}
	return p, nil
}

// Parts returns how many parts of size partSize are needed for total bytes.
func Parts(total, partSize uint64) uint64 {
	if partSize == 0 {
		return 0
	}
	n := total / partSize
	if total%partSize != 0 {
		n++
	}
	return n
}
