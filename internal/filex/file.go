// Package filex resolves upload inputs and download outputs on the local
// filesystem.
package filex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
)

// ErrNothingToRead is wrapped when stdin is a terminal or already at EOF.
var ErrNothingToRead = errors.New("nothing to upload on stdin")

// Input is an opened upload source. Size is meaningful only when SizeKnown.
type Input struct {
	io.Reader
	Name      string
	Size      uint64
	SizeKnown bool

	closer io.Closer
}

func (in *Input) Close() error {
	if in.closer == nil {
		return nil
	}
	return in.closer.Close()
}

// Open opens a regular file for upload.
func Open(path string) (*Input, error) {
	const op = "open input"

	f, err := os.Open(path)
	if err != nil {
		return nil, common.Unavailable(op, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, common.Unavailable(op, err)
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, common.Unavailable(op, fmt.Errorf("%s is a directory", path))
	}

	return &Input{Reader: f, Name: path, Size: uint64(fi.Size()), SizeKnown: true, closer: f}, nil
}

// FromStdin wraps r as an upload source. A terminal or an empty stream is
// reported as unavailable before anything is uploaded. When r is a
// redirected regular file its size is known up front.
func FromStdin(r io.Reader) (*Input, error) {
	const op = "read stdin"

	in := &Input{Name: "<stdin>"}

	if f, ok := r.(*os.File); ok {
		fi, err := f.Stat()
		if err != nil {
			return nil, common.Unavailable(op, err)
		}
		if fi.Mode()&os.ModeCharDevice != 0 {
			return nil, common.Unavailable(op, ErrNothingToRead)
		}
		if fi.Mode().IsRegular() {
			in.Size = uint64(fi.Size())
			in.SizeKnown = true
		}
	}

	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, common.Unavailable(op, ErrNothingToRead)
		}
		return nil, common.Unavailable(op, err)
	}

	in.Reader = br
	return in, nil
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// Create creates (or truncates) path for writing, making parent directories
// as needed.
func Create(path string) (*os.File, error) {
	const op = "create output"

	if err := EnsureParentDir(path); err != nil {
		return nil, common.Unavailable(op, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, common.Unavailable(op, err)
	}
	return f, nil
}
