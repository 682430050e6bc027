// Package glacier is the archival service client used by the upload and
// retrieval components. Client is implemented by SDKClient over the AWS SDK;
// tests substitute hand-written fakes.
package glacier

import (
	"context"
	"io"
	"time"
)

type JobKind string

const (
	JobArchiveRetrieval   JobKind = "ArchiveRetrieval"
	JobInventoryRetrieval JobKind = "InventoryRetrieval"
)

type JobStatus string

const (
	StatusInProgress JobStatus = "InProgress"
	StatusSucceeded  JobStatus = "Succeeded"
	StatusFailed     JobStatus = "Failed"
)

// Job is a retrieval job as the service reports it.
type Job struct {
	ID             string
	Kind           JobKind
	Status         JobStatus
	StatusMessage  string
	Completed      bool
	ArchiveID      string
	Description    string
	CreationDate   time.Time
	CompletionDate time.Time
	ArchiveSize    int64
	InventorySize  int64
	TreeHash       string
	VaultARN       string
}

// JobRequest describes a retrieval job to start. ArchiveID is required for
// archive retrievals and ignored for inventories.
type JobRequest struct {
	Kind        JobKind
	ArchiveID   string
	Description string
	Format      string
	Tier        string
}

type Upload struct {
	ID       string
	Location string
}

// Archive is what the service returns once a multipart upload completes.
type Archive struct {
	ID       string
	Location string
	Checksum string
}

// JobOutput streams a finished job's data. The caller must close Body.
type JobOutput struct {
	Body        io.ReadCloser
	Checksum    string
	ContentType string
}

type Vault struct {
	Name              string
	ARN               string
	CreationDate      time.Time
	LastInventoryDate time.Time
	NumberOfArchives  int64
	SizeInBytes       int64
}

type MultipartUpload struct {
	ID           string
	Description  string
	CreationDate time.Time
	PartSize     int64
	VaultARN     string
}

// Uploader is the part of the service a multipart upload needs.
type Uploader interface {
	InitiateMultipartUpload(ctx context.Context, vault, description string, partSize uint64) (Upload, error)
	UploadPart(ctx context.Context, vault, uploadID string, start uint64, data []byte, treeHash string) (string, error)
	CompleteMultipartUpload(ctx context.Context, vault, uploadID string, size uint64, treeHash string) (Archive, error)
	AbortMultipartUpload(ctx context.Context, vault, uploadID string) error
}

// Retriever is the part of the service the retrieval coordinator needs.
type Retriever interface {
	ListJobs(ctx context.Context, vault string) ([]Job, error)
	InitiateJob(ctx context.Context, vault string, req JobRequest) (string, error)
	DescribeJob(ctx context.Context, vault, jobID string) (Job, error)
	GetJobOutput(ctx context.Context, vault, jobID string) (*JobOutput, error)
}

// Client is the complete service surface used by the command line.
type Client interface {
	Uploader
	Retriever

	ListVaults(ctx context.Context) ([]Vault, error)
	CreateVault(ctx context.Context, vault string) (string, error)
	DeleteVault(ctx context.Context, vault string) error
	DescribeVault(ctx context.Context, vault string) (Vault, error)
	DeleteArchive(ctx context.Context, vault, archiveID string) error
	ListMultipartUploads(ctx context.Context, vault string) ([]MultipartUpload, error)
}
