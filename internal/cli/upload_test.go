package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/treehash"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/4096)
	}
	return b
}

func TestUpload_FileIsRecorded(t *testing.T) {
	h := newHarness(t)
	data := payload(3*int(common.MiB) + 123)
	path := writeFile(t, "photos.tar", data)

	require.NoError(t, h.run("--bookkeeping", "upload", "--partsize", "1", "vault1", path, "holiday", "photos"))

	out := h.stdout.String()
	assert.Contains(t, out, "Created archive with ID: archive-2")
	assert.Contains(t, out, "Archive SHA256 tree hash: "+treehash.Of(data).String())
	assert.Equal(t, data, h.fake.Archives["archive-2"])
	assert.Equal(t, common.MiB, h.fake.PartSize("upload-1"))
	assert.Equal(t, 4, h.fake.Count("UploadPart"))

	require.NoError(t, h.run("--bookkeeping", "search", "--vault", "vault1", "holiday"))
	assert.Contains(t, h.stdout.String(), path)
	assert.Contains(t, h.stdout.String(), "archive-2")
}

func TestUpload_PartSizeRoundsUp(t *testing.T) {
	h := newHarness(t)
	path := writeFile(t, "small.bin", payload(1000))

	require.NoError(t, h.run("upload", "--partsize", "3", "vault1", path))
	assert.Equal(t, 4*common.MiB, h.fake.PartSize("upload-1"))
}

func TestUpload_StdinNamedByDescription(t *testing.T) {
	h := newHarness(t)
	data := payload(5000)
	h.stdin = bytes.NewReader(data)

	require.NoError(t, h.run("--bookkeeping", "upload", "vault1", "-", "nightly-dump"))
	assert.Equal(t, data, h.fake.Archives["archive-2"])

	require.NoError(t, h.run("--bookkeeping", "search", "nightly"))
	assert.Contains(t, h.stdout.String(), "nightly-dump")
}

func TestUpload_NameFlagKeysRecord(t *testing.T) {
	h := newHarness(t)
	h.stdin = bytes.NewReader(payload(10))

	require.NoError(t, h.run("--bookkeeping", "upload", "--stdin", "--name", "db.sql", "vault1", "ignored", "dump", "of", "db"))

	require.NoError(t, h.run("--bookkeeping", "search", "db.sql"))
	assert.Contains(t, h.stdout.String(), "db.sql")
	assert.Contains(t, h.stdout.String(), "archive-2")
}

func TestUpload_EmptyStdinIsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.stdin = strings.NewReader("")

	err := h.run("upload", "vault1", "-", "nothing")
	assert.ErrorIs(t, err, common.ErrResourceUnavailable)
	assert.Equal(t, ExitUnavailable, ExitCode(err))
	assert.Zero(t, h.fake.Count("InitiateMultipartUpload"))
}

func TestUpload_MissingFileIsUnavailable(t *testing.T) {
	h := newHarness(t)
	err := h.run("upload", "vault1", "/does/not/exist")
	assert.ErrorIs(t, err, common.ErrResourceUnavailable)
	assert.Empty(t, h.fake.Calls())
}

func TestUpload_ValidationBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	path := writeFile(t, "f", payload(10))

	tests := []struct {
		name string
		args []string
	}{
		{"bad vault", []string{"upload", "bad vault!", path}},
		{"description not printable", []string{"upload", "vault1", path, "tab\there"}},
		{"description too long", []string{"upload", "vault1", path, strings.Repeat("d", common.MaxDescriptionLen+1)}},
		{"zero part size", []string{"upload", "--partsize", "0", "vault1", path}},
		{"missing file argument", []string{"upload", "vault1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.run(tt.args...)
			assert.ErrorIs(t, err, common.ErrValidation)
			assert.Equal(t, ExitValidation, ExitCode(err))
		})
	}
	assert.Zero(t, h.fake.Count("InitiateMultipartUpload"))
}

func TestUpload_StdinWithoutNameNeedsDescriptionForBookkeeping(t *testing.T) {
	h := newHarness(t)
	h.stdin = bytes.NewReader(payload(10))

	err := h.run("--bookkeeping", "upload", "vault1", "-")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Zero(t, h.fake.Count("InitiateMultipartUpload"))
}

func TestUpload_IntegrityFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.CompleteChecksum = strings.Repeat("0", 64)
	path := writeFile(t, "f", payload(100))

	err := h.run("--bookkeeping", "upload", "vault1", path)
	require.Error(t, err)
	assert.Equal(t, ExitIntegrity, ExitCode(err))
	assert.NotContains(t, h.stdout.String(), "Created archive")

	require.NoError(t, h.run("--bookkeeping", "search"))
	assert.NotContains(t, h.stdout.String(), "archive-2", "nothing recorded for a mismatched upload")
}

func TestUpload_ExhaustedRetriesAbort(t *testing.T) {
	h := newHarness(t)
	h.fake.UploadPartErr = func(start uint64, attempt int) error {
		return common.Transport("upload part", assert.AnError)
	}
	path := writeFile(t, "f", payload(100))

	err := h.run("--retries", "2", "upload", "vault1", path)
	assert.ErrorIs(t, err, common.ErrTransport)
	assert.Equal(t, ExitTransport, ExitCode(err))
	assert.Equal(t, 3, h.fake.Count("UploadPart"))
	assert.True(t, h.fake.Aborted("upload-1"))
}
