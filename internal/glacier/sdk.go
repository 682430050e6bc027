package glacier

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glacier/types"

	"github.com/dmitrijs2005/glacierkeeper/internal/awsx"
)

var newGlacierFromConfig = func(cfg aws.Config, optFns ...func(*glacier.Options)) *glacier.Client {
	return glacier.NewFromConfig(cfg, optFns...)
}

// noRetry disables the SDK retryer for calls whose retry policy belongs to
// the caller: part uploads, completion and abort.
func noRetry(o *glacier.Options) {
	o.RetryMaxAttempts = 1
}

// SDKClient implements Client over the AWS SDK for Go v2.
type SDKClient struct {
	api *glacier.Client
}

func NewSDKClient(ctx context.Context, s awsx.Settings) (*SDKClient, error) {
	cfg, err := awsx.Load(ctx, s)
	if err != nil {
		return nil, err
	}

	api := newGlacierFromConfig(cfg, func(o *glacier.Options) {
		if ep := s.BaseEndpoint(); ep != nil {
			o.BaseEndpoint = ep
		}
	})
	return &SDKClient{api: api}, nil
}

// NewSDKClientFromAPI wraps an already configured SDK client.
func NewSDKClientFromAPI(api *glacier.Client) *SDKClient {
	return &SDKClient{api: api}
}

func parseTime(s *string) time.Time {
	if s == nil || *s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c *SDKClient) InitiateMultipartUpload(ctx context.Context, vault, description string, partSize uint64) (Upload, error) {
	out, err := c.api.InitiateMultipartUpload(ctx, &glacier.InitiateMultipartUploadInput{
		AccountId:          aws.String("-"),
		VaultName:          aws.String(vault),
		ArchiveDescription: aws.String(description),
		PartSize:           aws.String(strconv.FormatUint(partSize, 10)),
	})
	if err != nil {
		return Upload{}, mapError("initiate multipart upload", err)
	}

	return Upload{ID: aws.ToString(out.UploadId), Location: aws.ToString(out.Location)}, nil
}

func (c *SDKClient) UploadPart(ctx context.Context, vault, uploadID string, start uint64, data []byte, treeHash string) (string, error) {
	end := start + uint64(len(data)) - 1

	out, err := c.api.UploadMultipartPart(ctx, &glacier.UploadMultipartPartInput{
		AccountId: aws.String("-"),
		VaultName: aws.String(vault),
		UploadId:  aws.String(uploadID),
		Range:     aws.String(fmt.Sprintf("bytes %d-%d/*", start, end)),
		Checksum:  aws.String(treeHash),
		Body:      bytes.NewReader(data),
	}, noRetry)
	if err != nil {
		return "", mapError("upload part", err)
	}

	return aws.ToString(out.Checksum), nil
}

func (c *SDKClient) CompleteMultipartUpload(ctx context.Context, vault, uploadID string, size uint64, treeHash string) (Archive, error) {
	out, err := c.api.CompleteMultipartUpload(ctx, &glacier.CompleteMultipartUploadInput{
		AccountId:   aws.String("-"),
		VaultName:   aws.String(vault),
		UploadId:    aws.String(uploadID),
		ArchiveSize: aws.String(strconv.FormatUint(size, 10)),
		Checksum:    aws.String(treeHash),
	}, noRetry)
	if err != nil {
		return Archive{}, mapError("complete multipart upload", err)
	}

	return Archive{
		ID:       aws.ToString(out.ArchiveId),
		Location: aws.ToString(out.Location),
		Checksum: aws.ToString(out.Checksum),
	}, nil
}

func (c *SDKClient) AbortMultipartUpload(ctx context.Context, vault, uploadID string) error {
	_, err := c.api.AbortMultipartUpload(ctx, &glacier.AbortMultipartUploadInput{
		AccountId: aws.String("-"),
		VaultName: aws.String(vault),
		UploadId:  aws.String(uploadID),
	}, noRetry)
	return mapError("abort multipart upload", err)
}

func jobFromSDK(j types.GlacierJobDescription) Job {
	return Job{
		ID:             aws.ToString(j.JobId),
		Kind:           JobKind(j.Action),
		Status:         JobStatus(j.StatusCode),
		StatusMessage:  aws.ToString(j.StatusMessage),
		Completed:      j.Completed,
		ArchiveID:      aws.ToString(j.ArchiveId),
		Description:    aws.ToString(j.JobDescription),
		CreationDate:   parseTime(j.CreationDate),
		CompletionDate: parseTime(j.CompletionDate),
		ArchiveSize:    aws.ToInt64(j.ArchiveSizeInBytes),
		InventorySize:  aws.ToInt64(j.InventorySizeInBytes),
		TreeHash:       aws.ToString(j.SHA256TreeHash),
		VaultARN:       aws.ToString(j.VaultARN),
	}
}

func (c *SDKClient) ListJobs(ctx context.Context, vault string) ([]Job, error) {
	var jobs []Job
	var marker *string

	for {
		out, err := c.api.ListJobs(ctx, &glacier.ListJobsInput{
			AccountId: aws.String("-"),
			VaultName: aws.String(vault),
			Marker:    marker,
		})
		if err != nil {
			return nil, mapError("list jobs", err)
		}

		for _, j := range out.JobList {
			jobs = append(jobs, jobFromSDK(j))
		}

		if aws.ToString(out.Marker) == "" {
			return jobs, nil
		}
		marker = out.Marker
	}
}

// jobType maps a job kind to the value InitiateJob expects; listings report
// the kind in its CamelCase form.
func jobType(k JobKind) string {
	switch k {
	case JobArchiveRetrieval:
		return "archive-retrieval"
	case JobInventoryRetrieval:
		return "inventory-retrieval"
	}
	return string(k)
}

func (c *SDKClient) InitiateJob(ctx context.Context, vault string, req JobRequest) (string, error) {
	params := &types.JobParameters{
		Type: aws.String(jobType(req.Kind)),
	}
	if req.Kind == JobArchiveRetrieval {
		params.ArchiveId = aws.String(req.ArchiveID)
	}
	if req.Description != "" {
		params.Description = aws.String(req.Description)
	}
	if req.Format != "" {
		params.Format = aws.String(req.Format)
	}
	if req.Tier != "" {
		params.Tier = aws.String(req.Tier)
	}

	out, err := c.api.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId:     aws.String("-"),
		VaultName:     aws.String(vault),
		JobParameters: params,
	})
	if err != nil {
		return "", mapError("initiate job", err)
	}

	return aws.ToString(out.JobId), nil
}

func (c *SDKClient) DescribeJob(ctx context.Context, vault, jobID string) (Job, error) {
	out, err := c.api.DescribeJob(ctx, &glacier.DescribeJobInput{
		AccountId: aws.String("-"),
		VaultName: aws.String(vault),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return Job{}, mapError("describe job", err)
	}

	return jobFromSDK(types.GlacierJobDescription{
		Action:               out.Action,
		ArchiveId:            out.ArchiveId,
		ArchiveSizeInBytes:   out.ArchiveSizeInBytes,
		Completed:            out.Completed,
		CompletionDate:       out.CompletionDate,
		CreationDate:         out.CreationDate,
		InventorySizeInBytes: out.InventorySizeInBytes,
		JobDescription:       out.JobDescription,
		JobId:                out.JobId,
		SHA256TreeHash:       out.SHA256TreeHash,
		StatusCode:           out.StatusCode,
		StatusMessage:        out.StatusMessage,
		VaultARN:             out.VaultARN,
	}), nil
}

func (c *SDKClient) GetJobOutput(ctx context.Context, vault, jobID string) (*JobOutput, error) {
	out, err := c.api.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: aws.String("-"),
		VaultName: aws.String(vault),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return nil, mapError("get job output", err)
	}

	return &JobOutput{
		Body:        out.Body,
		Checksum:    aws.ToString(out.Checksum),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

func vaultFromSDK(v types.DescribeVaultOutput) Vault {
	return Vault{
		Name:              aws.ToString(v.VaultName),
		ARN:               aws.ToString(v.VaultARN),
		CreationDate:      parseTime(v.CreationDate),
		LastInventoryDate: parseTime(v.LastInventoryDate),
		NumberOfArchives:  v.NumberOfArchives,
		SizeInBytes:       v.SizeInBytes,
	}
}

func (c *SDKClient) ListVaults(ctx context.Context) ([]Vault, error) {
	var vaults []Vault
	var marker *string

	for {
		out, err := c.api.ListVaults(ctx, &glacier.ListVaultsInput{
			AccountId: aws.String("-"),
			Marker:    marker,
		})
		if err != nil {
			return nil, mapError("list vaults", err)
		}

		for _, v := range out.VaultList {
			vaults = append(vaults, vaultFromSDK(v))
		}

		if aws.ToString(out.Marker) == "" {
			return vaults, nil
		}
		marker = out.Marker
	}
}

func (c *SDKClient) CreateVault(ctx context.Context, vault string) (string, error) {
	out, err := c.api.CreateVault(ctx, &glacier.CreateVaultInput{
		AccountId: aws.String("-"),
		VaultName: aws.String(vault),
	})
	if err != nil {
		return "", mapError("create vault", err)
	}
	return aws.ToString(out.Location), nil
}

func (c *SDKClient) DeleteVault(ctx context.Context, vault string) error {
	_, err := c.api.DeleteVault(ctx, &glacier.DeleteVaultInput{
		AccountId: aws.String("-"),
		VaultName: aws.String(vault),
	})
	return mapError("delete vault", err)
}

func (c *SDKClient) DescribeVault(ctx context.Context, vault string) (Vault, error) {
	out, err := c.api.DescribeVault(ctx, &glacier.DescribeVaultInput{
		AccountId: aws.String("-"),
		VaultName: aws.String(vault),
	})
	if err != nil {
		return Vault{}, mapError("describe vault", err)
	}

	return vaultFromSDK(types.DescribeVaultOutput{
		VaultName:         out.VaultName,
		VaultARN:          out.VaultARN,
		CreationDate:      out.CreationDate,
		LastInventoryDate: out.LastInventoryDate,
		NumberOfArchives:  out.NumberOfArchives,
		SizeInBytes:       out.SizeInBytes,
	}), nil
}

func (c *SDKClient) DeleteArchive(ctx context.Context, vault, archiveID string) error {
	_, err := c.api.DeleteArchive(ctx, &glacier.DeleteArchiveInput{
		AccountId: aws.String("-"),
		VaultName: aws.String(vault),
		ArchiveId: aws.String(archiveID),
	})
	return mapError("delete archive", err)
}

func (c *SDKClient) ListMultipartUploads(ctx context.Context, vault string) ([]MultipartUpload, error) {
	var uploads []MultipartUpload
	var marker *string

	for {
		out, err := c.api.ListMultipartUploads(ctx, &glacier.ListMultipartUploadsInput{
			AccountId: aws.String("-"),
			VaultName: aws.String(vault),
			Marker:    marker,
		})
		if err != nil {
			return nil, mapError("list multipart uploads", err)
		}

		for _, u := range out.UploadsList {
			uploads = append(uploads, MultipartUpload{
				ID:           aws.ToString(u.MultipartUploadId),
				Description:  aws.ToString(u.ArchiveDescription),
				CreationDate: parseTime(u.CreationDate),
				PartSize:     u.PartSizeInBytes,
				VaultARN:     aws.ToString(u.VaultARN),
			})
		}

		if aws.ToString(out.Marker) == "" {
			return uploads, nil
		}
		marker = out.Marker
	}
}
