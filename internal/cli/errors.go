package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitValidation  = 2
	ExitUnavailable = 3
	ExitRejection   = 4
	ExitTransport   = 5
	ExitIntegrity   = 6
)

// ExitCode maps the kind of err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch common.KindOf(err) {
	case common.KindValidation:
		return ExitValidation
	case common.KindResourceUnavailable:
		return ExitUnavailable
	case common.KindRemoteRejection:
		return ExitRejection
	case common.KindTransport:
		return ExitTransport
	case common.KindIntegrity:
		return ExitIntegrity
	}
	return ExitFailure
}

// PrintError writes err to w naming its kind. Integrity failures get a
// banner of their own so they are not mistaken for a network hiccup.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}

	kind := common.KindOf(err)
	if kind == common.KindIntegrity {
		bar := strings.Repeat("!", 60)
		fmt.Fprintln(w, bar)
		fmt.Fprintln(w, "DATA INTEGRITY ERROR: the data may be corrupt, do not trust it.")
		fmt.Fprintln(w, err.Error())
		fmt.Fprintln(w, bar)
		return
	}

	if kind == "" {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "error [%s]: %v\n", kind, err)
}
