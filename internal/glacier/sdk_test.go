package glacier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *SDKClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	api := glacier.New(glacier.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(srv.URL),
		Credentials:      credentials.NewStaticCredentialsProvider("AK", "SK", ""),
		RetryMaxAttempts: 1,
	})
	return NewSDKClientFromAPI(api)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func writeAPIError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Amzn-ErrorType", code)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"code":"`+code+`","message":"`+msg+`","type":"Client"}`)
}

func TestSDKClient_ListJobs_FollowsMarker(t *testing.T) {
	var markers []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/-/vaults/photos/jobs", r.URL.Path)
		markers = append(markers, r.URL.Query().Get("marker"))

		if r.URL.Query().Get("marker") == "" {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"JobList": []map[string]any{{
					"JobId":          "job-1",
					"Action":         "InventoryRetrieval",
					"StatusCode":     "Succeeded",
					"Completed":      true,
					"CompletionDate": "2026-01-02T10:00:00.000Z",
				}},
				"Marker": "m1",
			})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"JobList": []map[string]any{{
				"JobId":              "job-2",
				"Action":             "ArchiveRetrieval",
				"ArchiveId":          "arch-9",
				"StatusCode":         "InProgress",
				"ArchiveSizeInBytes": 42,
			}},
			"Marker": nil,
		})
	})

	jobs, err := c.ListJobs(context.Background(), "photos")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"", "m1"}, markers)

	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, JobInventoryRetrieval, jobs[0].Kind)
	assert.Equal(t, StatusSucceeded, jobs[0].Status)
	assert.True(t, jobs[0].Completed)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), jobs[0].CompletionDate)

	assert.Equal(t, "arch-9", jobs[1].ArchiveID)
	assert.Equal(t, StatusInProgress, jobs[1].Status)
	assert.Equal(t, int64(42), jobs[1].ArchiveSize)
	assert.True(t, jobs[1].CompletionDate.IsZero())
}

func TestSDKClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		code       string
		wantKind   common.Kind
		wantStatus int
	}{
		{"forbidden is a rejection", http.StatusForbidden, "AccessDeniedException", common.KindRemoteRejection, http.StatusForbidden},
		{"missing vault is a rejection", http.StatusNotFound, "ResourceNotFoundException", common.KindRemoteRejection, http.StatusNotFound},
		{"unavailable is transport", http.StatusServiceUnavailable, "ServiceUnavailableException", common.KindTransport, 0},
		{"throttling is transport", http.StatusBadRequest, "ThrottlingException", common.KindTransport, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, tt.status, tt.code, "nope")
			})

			_, err := c.ListJobs(context.Background(), "photos")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, common.KindOf(err))

			var ce *common.Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "list jobs", ce.Op)
			if tt.wantKind == common.KindRemoteRejection {
				assert.Equal(t, tt.wantStatus, ce.Status)
				assert.Contains(t, ce.Message, tt.code)
				assert.Contains(t, ce.Message, "nope")
			}
		})
	}
}

func TestSDKClient_UnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	api := glacier.New(glacier.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(url),
		Credentials:      credentials.NewStaticCredentialsProvider("AK", "SK", ""),
		RetryMaxAttempts: 1,
	})
	c := NewSDKClientFromAPI(api)

	_, err := c.ListVaults(context.Background())
	assert.ErrorIs(t, err, common.ErrTransport)
}

func TestSDKClient_CanceledContextPassesThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"VaultList": []any{}})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListVaults(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, common.Kind(""), common.KindOf(err))
}

func TestSDKClient_MultipartUploadRoundTrip(t *testing.T) {
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/-/vaults/photos/multipart-uploads":
			assert.Equal(t, "1048576", r.Header.Get("x-amz-part-size"))
			assert.Equal(t, "holiday", r.Header.Get("x-amz-archive-description"))
			w.Header().Set("Location", "/-/vaults/photos/multipart-uploads/up-1")
			w.Header().Set("x-amz-multipart-upload-id", "up-1")
			w.WriteHeader(http.StatusCreated)

		case r.Method == http.MethodPut && r.URL.Path == "/-/vaults/photos/multipart-uploads/up-1":
			assert.Equal(t, "bytes 0-4/*", r.Header.Get("Content-Range"))
			assert.Equal(t, "abc123", r.Header.Get("x-amz-sha256-tree-hash"))
			gotBody, _ = io.ReadAll(r.Body)
			w.Header().Set("x-amz-sha256-tree-hash", "abc123")
			w.WriteHeader(http.StatusNoContent)

		case r.Method == http.MethodPost && r.URL.Path == "/-/vaults/photos/multipart-uploads/up-1":
			assert.Equal(t, "5", r.Header.Get("x-amz-archive-size"))
			assert.Equal(t, "abc123", r.Header.Get("x-amz-sha256-tree-hash"))
			w.Header().Set("Location", "/-/vaults/photos/archives/arch-1")
			w.Header().Set("x-amz-archive-id", "arch-1")
			w.Header().Set("x-amz-sha256-tree-hash", "abc123")
			w.WriteHeader(http.StatusCreated)

		case r.Method == http.MethodDelete && r.URL.Path == "/-/vaults/photos/multipart-uploads/up-1":
			w.WriteHeader(http.StatusNoContent)

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})
	ctx := context.Background()

	up, err := c.InitiateMultipartUpload(ctx, "photos", "holiday", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "up-1", up.ID)

	sum, err := c.UploadPart(ctx, "photos", up.ID, 0, []byte("hello"), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", sum)
	assert.Equal(t, "hello", string(gotBody))

	arch, err := c.CompleteMultipartUpload(ctx, "photos", up.ID, 5, "abc123")
	require.NoError(t, err)
	assert.Equal(t, Archive{ID: "arch-1", Location: "/-/vaults/photos/archives/arch-1", Checksum: "abc123"}, arch)

	require.NoError(t, c.AbortMultipartUpload(ctx, "photos", up.ID))
}

func TestSDKClient_InitiateJobAndOutput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/-/vaults/photos/jobs":
			var params map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			assert.Equal(t, "archive-retrieval", params["Type"])
			assert.Equal(t, "arch-1", params["ArchiveId"])
			w.Header().Set("x-amz-job-id", "job-7")
			w.WriteHeader(http.StatusAccepted)

		case r.Method == http.MethodGet && r.URL.Path == "/-/vaults/photos/jobs/job-7/output":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("x-amz-sha256-tree-hash", "feed")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "archive bytes")

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	id, err := c.InitiateJob(ctx, "photos", JobRequest{Kind: JobArchiveRetrieval, ArchiveID: "arch-1"})
	require.NoError(t, err)
	assert.Equal(t, "job-7", id)

	out, err := c.GetJobOutput(ctx, "photos", id)
	require.NoError(t, err)
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(b))
	assert.Equal(t, "feed", out.Checksum)
}

func TestSDKClient_Vaults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/-/vaults":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"VaultList": []map[string]any{{
					"VaultName":        "photos",
					"VaultARN":         "arn:aws:glacier:us-east-1:1:vaults/photos",
					"NumberOfArchives": 3,
					"SizeInBytes":      1024,
					"CreationDate":     "2025-12-01T00:00:00Z",
				}},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/-/vaults/photos":
			writeJSON(t, w, http.StatusOK, map[string]any{"VaultName": "photos", "NumberOfArchives": 3})
		case r.Method == http.MethodPut && r.URL.Path == "/-/vaults/new":
			w.Header().Set("Location", "/-/vaults/new")
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete && r.URL.Path == "/-/vaults/old":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/-/vaults/photos/archives/arch-1":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/-/vaults/photos/multipart-uploads":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"UploadsList": []map[string]any{{"MultipartUploadId": "up-1", "PartSizeInBytes": 1048576}},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	vaults, err := c.ListVaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	assert.Equal(t, "photos", vaults[0].Name)
	assert.Equal(t, int64(3), vaults[0].NumberOfArchives)
	assert.Equal(t, int64(1024), vaults[0].SizeInBytes)

	v, err := c.DescribeVault(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, "photos", v.Name)

	loc, err := c.CreateVault(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "/-/vaults/new", loc)

	require.NoError(t, c.DeleteVault(ctx, "old"))
	require.NoError(t, c.DeleteArchive(ctx, "photos", "arch-1"))

	ups, err := c.ListMultipartUploads(ctx, "photos")
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Equal(t, "up-1", ups[0].ID)
	assert.Equal(t, int64(1048576), ups[0].PartSize)
}

func TestJobType(t *testing.T) {
	assert.Equal(t, "archive-retrieval", jobType(JobArchiveRetrieval))
	assert.Equal(t, "inventory-retrieval", jobType(JobInventoryRetrieval))
	assert.Equal(t, "select", jobType(JobKind("select")))
}
