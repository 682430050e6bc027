// Package glaciertest provides an in-memory glacier.Client for tests.
package glaciertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/glacier"
	"github.com/dmitrijs2005/glacierkeeper/internal/treehash"
)

type upload struct {
	vault       string
	description string
	partSize    uint64
	parts       map[uint64][]byte
}

// Fake keeps vaults, uploads, archives and jobs in memory. Error fields
// inject failures into the matching call.
type Fake struct {
	mu sync.Mutex

	Clock func() time.Time

	Vaults   map[string]glacier.Vault
	Jobs     map[string][]glacier.Job
	Outputs  map[string][]byte
	Archives map[string][]byte
	uploads  map[string]*upload
	aborted  map[string]bool
	// partSizes outlives the upload so tests can inspect completed ones.
	partSizes map[string]uint64
	calls     []string
	nextID    int

	InitiateErr error
	ListJobsErr error
	AbortErr    error
	CompleteErr error
	// UploadPartErr, when set, decides the outcome of each UploadPart call.
	// attempt counts calls for the same offset starting at 1.
	UploadPartErr func(start uint64, attempt int) error
	// CompleteChecksum replaces the digest reported on completion.
	CompleteChecksum string
	// PartChecksum replaces the digest reported for every part.
	PartChecksum string

	attempts map[uint64]int
}

func New() *Fake {
	return &Fake{
		Clock:     time.Now,
		Vaults:    map[string]glacier.Vault{},
		Jobs:      map[string][]glacier.Job{},
		Outputs:   map[string][]byte{},
		Archives:  map[string][]byte{},
		uploads:   map[string]*upload{},
		aborted:   map[string]bool{},
		partSizes: map[string]uint64{},
		attempts:  map[uint64]int{},
	}
}

var _ glacier.Client = (*Fake)(nil)

func (f *Fake) record(op string) {
	f.calls = append(f.calls, op)
}

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// Calls returns the operation names invoked so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many times op was invoked.
func (f *Fake) Count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Fake) Aborted(uploadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[uploadID]
}

// PartSize returns the part size an upload was initiated with, also after
// it was completed or aborted.
func (f *Fake) PartSize(uploadID string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partSizes[uploadID]
}

func (f *Fake) InitiateMultipartUpload(ctx context.Context, vault, description string, partSize uint64) (glacier.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("InitiateMultipartUpload")

	if f.InitiateErr != nil {
		return glacier.Upload{}, f.InitiateErr
	}

	id := f.id("upload")
	f.uploads[id] = &upload{vault: vault, description: description, partSize: partSize, parts: map[uint64][]byte{}}
	f.partSizes[id] = partSize
	return glacier.Upload{ID: id, Location: "/-/vaults/" + vault + "/multipart-uploads/" + id}, nil
}

func (f *Fake) UploadPart(ctx context.Context, vault, uploadID string, start uint64, data []byte, treeHash string) (string, error) {
	f.mu.Lock()
	f.record("UploadPart")
	f.attempts[start]++
	attempt := f.attempts[start]
	hook := f.UploadPartErr
	f.mu.Unlock()

	if hook != nil {
		if err := hook(start, attempt); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.uploads[uploadID]
	if !ok {
		return "", common.Rejection("upload part", 404, "ResourceNotFoundException: no such upload")
	}
	computed := treehash.Of(data).String()
	if treeHash != computed {
		return "", common.Rejection("upload part", 400, "InvalidParameterValueException: checksum mismatch")
	}

	u.parts[start] = append([]byte(nil), data...)
	if f.PartChecksum != "" {
		return f.PartChecksum, nil
	}
	return computed, nil
}

func (f *Fake) CompleteMultipartUpload(ctx context.Context, vault, uploadID string, size uint64, treeHash string) (glacier.Archive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CompleteMultipartUpload")

	if f.CompleteErr != nil {
		return glacier.Archive{}, f.CompleteErr
	}

	u, ok := f.uploads[uploadID]
	if !ok {
		return glacier.Archive{}, common.Rejection("complete multipart upload", 404, "ResourceNotFoundException: no such upload")
	}

	offsets := make([]uint64, 0, len(u.parts))
	for off := range u.parts {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	var buf bytes.Buffer
	for _, off := range offsets {
		if uint64(buf.Len()) != off {
			return glacier.Archive{}, common.Rejection("complete multipart upload", 400, "InvalidParameterValueException: missing part")
		}
		buf.Write(u.parts[off])
	}
	if uint64(buf.Len()) != size {
		return glacier.Archive{}, common.Rejection("complete multipart upload", 400, "InvalidParameterValueException: size mismatch")
	}

	checksum := treehash.Of(buf.Bytes()).String()
	if f.CompleteChecksum != "" {
		checksum = f.CompleteChecksum
	}

	id := f.id("archive")
	f.Archives[id] = buf.Bytes()
	delete(f.uploads, uploadID)

	return glacier.Archive{ID: id, Location: "/-/vaults/" + vault + "/archives/" + id, Checksum: checksum}, nil
}

func (f *Fake) AbortMultipartUpload(ctx context.Context, vault, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AbortMultipartUpload")

	if f.AbortErr != nil {
		return f.AbortErr
	}
	delete(f.uploads, uploadID)
	f.aborted[uploadID] = true
	return nil
}

func (f *Fake) ListJobs(ctx context.Context, vault string) ([]glacier.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListJobs")

	if f.ListJobsErr != nil {
		return nil, f.ListJobsErr
	}
	return append([]glacier.Job(nil), f.Jobs[vault]...), nil
}

func (f *Fake) InitiateJob(ctx context.Context, vault string, req glacier.JobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("InitiateJob")

	id := f.id("job")
	f.Jobs[vault] = append(f.Jobs[vault], glacier.Job{
		ID:           id,
		Kind:         req.Kind,
		Status:       glacier.StatusInProgress,
		ArchiveID:    req.ArchiveID,
		Description:  req.Description,
		CreationDate: f.Clock(),
	})
	return id, nil
}

// AddJob registers a job as if the service had created it earlier.
func (f *Fake) AddJob(vault string, j glacier.Job, output []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Jobs[vault] = append(f.Jobs[vault], j)
	if output != nil {
		f.Outputs[j.ID] = output
	}
}

// Succeed marks a job finished at completed with the given output.
func (f *Fake) Succeed(vault, jobID string, output []byte, completed time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, j := range f.Jobs[vault] {
		if j.ID == jobID {
			j.Status = glacier.StatusSucceeded
			j.Completed = true
			j.CompletionDate = completed
			j.TreeHash = treehash.Of(output).String()
			f.Jobs[vault][i] = j
		}
	}
	f.Outputs[jobID] = output
}

func (f *Fake) DescribeJob(ctx context.Context, vault, jobID string) (glacier.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeJob")

	for _, j := range f.Jobs[vault] {
		if j.ID == jobID {
			return j, nil
		}
	}
	return glacier.Job{}, common.Rejection("describe job", 404, "ResourceNotFoundException: no such job")
}

func (f *Fake) GetJobOutput(ctx context.Context, vault, jobID string) (*glacier.JobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetJobOutput")

	data, ok := f.Outputs[jobID]
	if !ok {
		return nil, common.Rejection("get job output", 404, "ResourceNotFoundException: no output")
	}
	return &glacier.JobOutput{
		Body:     io.NopCloser(bytes.NewReader(data)),
		Checksum: treehash.Of(data).String(),
	}, nil
}

func (f *Fake) ListVaults(ctx context.Context) ([]glacier.Vault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListVaults")

	names := make([]string, 0, len(f.Vaults))
	for n := range f.Vaults {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]glacier.Vault, 0, len(names))
	for _, n := range names {
		out = append(out, f.Vaults[n])
	}
	return out, nil
}

func (f *Fake) CreateVault(ctx context.Context, vault string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateVault")

	f.Vaults[vault] = glacier.Vault{Name: vault, ARN: "arn:aws:glacier:us-east-1:000000000000:vaults/" + vault, CreationDate: f.Clock()}
	return "/-/vaults/" + vault, nil
}

func (f *Fake) DeleteVault(ctx context.Context, vault string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteVault")

	if _, ok := f.Vaults[vault]; !ok {
		return common.Rejection("delete vault", 404, "ResourceNotFoundException: no such vault")
	}
	delete(f.Vaults, vault)
	return nil
}

func (f *Fake) DescribeVault(ctx context.Context, vault string) (glacier.Vault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeVault")

	v, ok := f.Vaults[vault]
	if !ok {
		return glacier.Vault{}, common.Rejection("describe vault", 404, "ResourceNotFoundException: no such vault")
	}
	return v, nil
}

func (f *Fake) DeleteArchive(ctx context.Context, vault, archiveID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteArchive")

	delete(f.Archives, archiveID)
	return nil
}

func (f *Fake) ListMultipartUploads(ctx context.Context, vault string) ([]glacier.MultipartUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListMultipartUploads")

	ids := make([]string, 0, len(f.uploads))
	for id, u := range f.uploads {
		if u.vault == vault {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]glacier.MultipartUpload, 0, len(ids))
	for _, id := range ids {
		u := f.uploads[id]
		out = append(out, glacier.MultipartUpload{ID: id, Description: u.description, PartSize: int64(u.partSize)})
	}
	return out, nil
}
