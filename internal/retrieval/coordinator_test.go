package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/glacier"
	"github.com/dmitrijs2005/glacierkeeper/internal/glacier/glaciertest"
	"github.com/dmitrijs2005/glacierkeeper/internal/index"
)

const vault = "photos"

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func openIndex(t *testing.T) index.Repository {
	t.Helper()
	repo, closeFn, err := index.Open(context.Background(), index.BackendSQLite, filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return repo
}

func inventoryJSON(date time.Time, ids ...string) []byte {
	var b strings.Builder
	b.WriteString(`{"VaultARN":"arn:aws:glacier:us-east-1:0:vaults/photos","InventoryDate":"` + date.Format(time.RFC3339) + `","ArchiveList":[`)
	for i, id := range ids {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"ArchiveId":"` + id + `","ArchiveDescription":"d-` + id + `","CreationDate":"2024-01-01T00:00:00Z","Size":10,"SHA256TreeHash":"ab"}`)
	}
	b.WriteString("]}")
	return []byte(b.String())
}

func TestArchive_DiscoveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	c := &Coordinator{Client: fake}

	first, err := c.Archive(ctx, vault, "arch-1", NewWriterSink(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.Equal(t, StateStarted, first.State)
	assert.True(t, first.IsPending())

	second, err := c.Archive(ctx, vault, "arch-1", NewWriterSink(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.Equal(t, StatePending, second.State)
	assert.Equal(t, first.JobID, second.JobID)

	assert.Equal(t, 1, fake.Count("InitiateJob"))
	assert.Equal(t, 2, fake.Count("ListJobs"))
}

func TestArchive_FetchesFinishedJob(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	c := &Coordinator{Client: fake}

	started, err := c.Archive(ctx, vault, "arch-1", nil)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("glacier"), 300_000)
	fake.Succeed(vault, started.JobID, data, t0)

	var out bytes.Buffer
	res, err := c.Archive(ctx, vault, "arch-1", NewWriterSink(&out))
	require.NoError(t, err)
	assert.Equal(t, StateFetched, res.State)
	assert.Equal(t, started.JobID, res.JobID)
	assert.Equal(t, int64(len(data)), res.Bytes)
	assert.Equal(t, data, out.Bytes())
	assert.False(t, res.IsPending())
	assert.Equal(t, 1, fake.Count("InitiateJob"))
}

func TestArchive_ReadyWithoutSink(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	fake.AddJob(vault, glacier.Job{ID: "j1", Kind: glacier.JobArchiveRetrieval, ArchiveID: "a", Status: glacier.StatusSucceeded}, []byte("x"))
	c := &Coordinator{Client: fake}

	_, err := c.Archive(ctx, vault, "a", nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestArchive_FailedJobStartsNewOne(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	fake.AddJob(vault, glacier.Job{
		ID:            "old",
		Kind:          glacier.JobArchiveRetrieval,
		ArchiveID:     "arch-1",
		Status:        glacier.StatusFailed,
		StatusMessage: "archive not found",
	}, nil)
	c := &Coordinator{Client: fake}

	res, err := c.Archive(ctx, vault, "arch-1", nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "old", res.FailedJobID)
	assert.Equal(t, "archive not found", res.StatusMessage)
	assert.NotEqual(t, "old", res.JobID)
	assert.Equal(t, 1, fake.Count("InitiateJob"))

	again, err := c.Archive(ctx, vault, "arch-1", nil)
	require.NoError(t, err)
	assert.Equal(t, StatePending, again.State, "the running job wins over the failed one")
	assert.Equal(t, res.JobID, again.JobID)
}

func TestArchive_IntegrityErrorLeavesNoFile(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	fake.AddJob(vault, glacier.Job{
		ID:        "j1",
		Kind:      glacier.JobArchiveRetrieval,
		ArchiveID: "arch-1",
		Status:    glacier.StatusSucceeded,
		TreeHash:  strings.Repeat("0", 64),
	}, []byte("corrupted bytes"))
	c := &Coordinator{Client: fake}

	path := filepath.Join(t.TempDir(), "out.bin")
	_, err := c.Archive(ctx, vault, "arch-1", NewFileSink(path))
	require.ErrorIs(t, err, common.ErrIntegrity)
	assert.NotErrorIs(t, err, common.ErrTransport)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(path + ".partial")
	assert.True(t, os.IsNotExist(statErr))
}

func TestArchive_ValidatesBeforeNetwork(t *testing.T) {
	fake := glaciertest.New()
	c := &Coordinator{Client: fake}

	_, err := c.Archive(context.Background(), "bad/vault", "a", nil)
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = c.Archive(context.Background(), vault, "", nil)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, fake.Calls())
}

type recordingSink struct {
	WriterSink
	maxWrite  int
	committed bool
}

func (r *recordingSink) Write(p []byte) (int, error) {
	if len(p) > r.maxWrite {
		r.maxWrite = len(p)
	}
	return r.WriterSink.Write(p)
}

func (r *recordingSink) Commit(ctx context.Context) error {
	r.committed = true
	return nil
}

func TestArchive_StreamsInBoundedChunks(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	data := bytes.Repeat([]byte{7}, 10_000)
	fake.AddJob(vault, glacier.Job{ID: "j1", Kind: glacier.JobArchiveRetrieval, ArchiveID: "a", Status: glacier.StatusSucceeded}, data)
	c := &Coordinator{Client: fake, ChunkSize: 1000}

	var out bytes.Buffer
	sink := &recordingSink{WriterSink: WriterSink{W: &out}}
	_, err := c.Archive(ctx, vault, "a", sink)
	require.NoError(t, err)
	assert.LessOrEqual(t, sink.maxWrite, 1000)
	assert.True(t, sink.committed)
	assert.Equal(t, data, out.Bytes())
}

func TestFreshestInventory(t *testing.T) {
	jobs := []glacier.Job{
		{ID: "archive", Kind: glacier.JobArchiveRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t0.Add(time.Hour)},
		{ID: "t1", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t0},
		{ID: "t2a", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t0.Add(time.Minute)},
		{ID: "t2b", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t0.Add(time.Minute)},
		{ID: "running", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusInProgress},
	}

	j, ok := freshestInventory(jobs)
	require.True(t, ok)
	assert.Equal(t, "t2a", j.ID, "ties keep listing order")

	_, ok = freshestInventory(jobs[:1])
	assert.False(t, ok)
}

func TestInventory_PicksFreshest(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	t1, t2 := t0, t0.Add(6*time.Hour)
	fake.AddJob(vault, glacier.Job{ID: "j-t2", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t2}, inventoryJSON(t2, "b", "c"))
	fake.AddJob(vault, glacier.Job{ID: "j-t1", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t1}, inventoryJSON(t1, "a"))
	c := &Coordinator{Client: fake, Clock: clockAt(t2.Add(time.Hour))}

	res, err := c.Inventory(ctx, vault, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "j-t2", res.JobID)
	assert.False(t, res.Stale)
	assert.False(t, res.Started)
	require.NotNil(t, res.Inventory)
	require.Len(t, res.Inventory.ArchiveList, 2)
	assert.Equal(t, "b", res.Inventory.ArchiveList[0].ArchiveID)
	assert.Equal(t, "d-b", res.Inventory.ArchiveList[0].Description)
	assert.Zero(t, fake.Count("InitiateJob"))
}

func TestInventory_StaleStartsRefreshAndStoresSnapshot(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	idx := openIndex(t)
	t2 := t0
	body := inventoryJSON(t2, "a")
	fake.AddJob(vault, glacier.Job{ID: "j-old", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t2}, body)

	var raw bytes.Buffer
	c := &Coordinator{Client: fake, Index: idx, Region: "us-east-1", Clock: clockAt(t2.Add(25 * time.Hour))}
	res, err := c.Inventory(ctx, vault, false, NewWriterSink(&raw))
	require.NoError(t, err)

	assert.True(t, res.Stale)
	assert.True(t, res.Started)
	assert.NotEmpty(t, res.StartedJobID)
	require.NotNil(t, res.Inventory, "the stale inventory is still shown")
	assert.JSONEq(t, string(body), raw.String())

	snap, err := idx.LatestInventory(ctx, "us-east-1", vault)
	require.NoError(t, err)
	assert.Equal(t, "j-old", snap.JobID)
	assert.True(t, snap.InventoryDate.Equal(t2))

	again, err := c.Inventory(ctx, vault, false, nil)
	require.NoError(t, err)
	assert.True(t, again.Stale)
	assert.False(t, again.Started, "a refresh is already running")
	assert.Equal(t, res.StartedJobID, again.PendingJobID)
	assert.Equal(t, 1, fake.Count("InitiateJob"))
}

func TestInventory_NoneStartsJobOnce(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	c := &Coordinator{Client: fake}

	res, err := c.Inventory(ctx, vault, false, nil)
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.Nil(t, res.Inventory)

	again, err := c.Inventory(ctx, vault, false, nil)
	require.NoError(t, err)
	assert.False(t, again.Started)
	assert.Equal(t, res.StartedJobID, again.PendingJobID)
	assert.Equal(t, 1, fake.Count("InitiateJob"))
}

func TestInventory_FallsBackToStoredSnapshot(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	idx := openIndex(t)
	require.NoError(t, idx.PutInventory(ctx, index.InventorySnapshot{
		Region:        "us-east-1",
		Vault:         vault,
		JobID:         "j-expired",
		InventoryDate: t0,
		Body:          inventoryJSON(t0, "a", "b"),
	}))
	c := &Coordinator{Client: fake, Index: idx, Region: "us-east-1", Clock: clockAt(t0.Add(time.Hour))}

	res, err := c.Inventory(ctx, vault, false, nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.False(t, res.Stale)
	assert.Equal(t, "j-expired", res.JobID)
	require.NotNil(t, res.Inventory)
	assert.Len(t, res.Inventory.ArchiveList, 2)
	assert.True(t, res.Started, "a fresh job is still requested")

	again, err := c.Inventory(ctx, vault, false, nil)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, res.StartedJobID, again.PendingJobID)
	assert.Equal(t, 1, fake.Count("InitiateJob"))

	other := &Coordinator{Client: fake, Index: idx, Region: "eu-west-1", Clock: clockAt(t0)}
	res, err = other.Inventory(ctx, vault, false, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached, "snapshots are per region")
	assert.Nil(t, res.Inventory)
}

func TestInventory_LargeDocumentDecodedFromSpool(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	idx := openIndex(t)

	ids := make([]string, 2000)
	for i := range ids {
		ids[i] = fmt.Sprintf("archive-%04d", i)
	}
	body := inventoryJSON(t0, ids...)
	fake.AddJob(vault, glacier.Job{ID: "j-big", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t0}, body)

	c := &Coordinator{Client: fake, Index: idx, Region: "us-east-1", Clock: clockAt(t0), ChunkSize: 512}
	res, err := c.Inventory(ctx, vault, false, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Inventory)
	require.Len(t, res.Inventory.ArchiveList, 2000)
	assert.Equal(t, "archive-1999", res.Inventory.ArchiveList[1999].ArchiveID)

	snap, err := idx.LatestInventory(ctx, "us-east-1", vault)
	require.NoError(t, err)
	assert.Equal(t, body, snap.Body)
}

func TestInventory_Force(t *testing.T) {
	fake := glaciertest.New()
	c := &Coordinator{Client: fake}

	res, err := c.Inventory(context.Background(), vault, true, nil)
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.Zero(t, fake.Count("ListJobs"))

	jobs := fake.Jobs[vault]
	require.Len(t, jobs, 1)
	assert.Equal(t, glacier.JobInventoryRetrieval, jobs[0].Kind)
}

func TestInventory_MalformedOutput(t *testing.T) {
	fake := glaciertest.New()
	fake.AddJob(vault, glacier.Job{ID: "j", Kind: glacier.JobInventoryRetrieval, Status: glacier.StatusSucceeded, CompletionDate: t0}, []byte("not json"))
	c := &Coordinator{Client: fake, Clock: clockAt(t0)}

	_, err := c.Inventory(context.Background(), vault, false, nil)
	assert.ErrorIs(t, err, common.ErrRemoteRejection)
}

func TestDownload_ResolvesThroughIndex(t *testing.T) {
	ctx := context.Background()
	fake := glaciertest.New()
	idx := openIndex(t)
	c := &Coordinator{Client: fake, Index: idx, Region: "us-east-1"}

	put := func(filename, archiveID string) {
		require.NoError(t, idx.Put(ctx, index.Record{
			Region: "us-east-1", Vault: vault, Filename: filename, ArchiveID: archiveID, UploadedAt: t0,
		}))
	}
	put("2023-photos.tar", "a-2023")
	put("2024-photos.tar", "a-2024")

	_, _, err := c.Download(ctx, index.Query{Prefix: "1999"}, nil)
	assert.ErrorIs(t, err, common.ErrResourceUnavailable)

	_, _, err = c.Download(ctx, index.Query{Prefix: "20"}, nil)
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "2023-photos.tar")
	assert.Contains(t, err.Error(), "2024-photos.tar")

	res, rec, err := c.Download(ctx, index.Query{Prefix: "2024"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, res.State)
	assert.Equal(t, "a-2024", rec.ArchiveID)
	require.Len(t, fake.Jobs[vault], 1)
	assert.Equal(t, "a-2024", fake.Jobs[vault][0].ArchiveID)
}

func TestDownload_RequiresIndex(t *testing.T) {
	c := &Coordinator{Client: glaciertest.New()}
	_, _, err := c.Download(context.Background(), index.Query{Prefix: "x"}, nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}
