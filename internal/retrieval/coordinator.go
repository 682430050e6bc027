// Package retrieval drives the asynchronous retrieval job protocol.
//
// The service is the only source of truth for jobs. Every call lists the
// vault's jobs, decides what to do from that listing, does at most one thing
// (start a job, report a pending one or fetch a finished one) and returns.
// Polling is the caller running the command again later.
package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/glacier"
	"github.com/dmitrijs2005/glacierkeeper/internal/index"
	"github.com/dmitrijs2005/glacierkeeper/internal/logging"
	"github.com/dmitrijs2005/glacierkeeper/internal/treehash"
	"github.com/dmitrijs2005/glacierkeeper/internal/validate"
)

const (
	DefaultMaxInventoryAge = 24 * time.Hour
	DefaultChunkSize       = 4 * int(common.MiB)
)

type State string

const (
	StateStarted State = "started"
	StatePending State = "pending"
	StateFetched State = "fetched"
	StateFailed  State = "failed"
)

// ArchiveOutcome reports what Archive did.
type ArchiveOutcome struct {
	State State
	JobID string
	// FailedJobID is the failed job that caused JobID to be started.
	FailedJobID   string
	StatusMessage string
	Bytes         int64
}

type InventoryArchive struct {
	ArchiveID      string    `json:"ArchiveId"`
	Description    string    `json:"ArchiveDescription"`
	CreationDate   time.Time `json:"CreationDate"`
	Size           int64     `json:"Size"`
	SHA256TreeHash string    `json:"SHA256TreeHash"`
}

// Inventory is the JSON document an inventory job produces.
type Inventory struct {
	VaultARN      string             `json:"VaultARN"`
	InventoryDate time.Time          `json:"InventoryDate"`
	ArchiveList   []InventoryArchive `json:"ArchiveList"`
}

// InventoryOutcome reports what Inventory did. Inventory is nil when there
// was nothing finished to show. Cached marks an inventory read back from the
// index because no finished job was listed.
type InventoryOutcome struct {
	Inventory *Inventory
	JobID     string
	Stale     bool
	Cached    bool

	Started      bool
	StartedJobID string
	PendingJobID string
}

// Coordinator runs one poll-and-act step per call. Client is required; Index
// is optional.
type Coordinator struct {
	Client          glacier.Retriever
	Index           index.Repository
	Logger          logging.Logger
	Clock           func() time.Time
	MaxInventoryAge time.Duration
	ChunkSize       int
	Region          string
}

func (c *Coordinator) logger() logging.Logger {
	if c.Logger == nil {
		return logging.Discard()
	}
	return c.Logger
}

func (c *Coordinator) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

func (c *Coordinator) maxAge() time.Duration {
	if c.MaxInventoryAge <= 0 {
		return DefaultMaxInventoryAge
	}
	return c.MaxInventoryAge
}

func (c *Coordinator) chunkSize() int {
	if c.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return c.ChunkSize
}

// pickArchiveJob chooses among the jobs for one archive: a finished one
// first, then one still running, then a failed one.
func pickArchiveJob(jobs []glacier.Job, archiveID string) (glacier.Job, bool) {
	var best glacier.Job
	found := false

	rank := func(s glacier.JobStatus) int {
		switch s {
		case glacier.StatusSucceeded:
			return 3
		case glacier.StatusInProgress:
			return 2
		}
		return 1
	}

	for _, j := range jobs {
		if j.Kind != glacier.JobArchiveRetrieval || j.ArchiveID != archiveID {
			continue
		}
		if !found || rank(j.Status) > rank(best.Status) ||
			(rank(j.Status) == rank(best.Status) && j.CreationDate.After(best.CreationDate)) {
			best = j
			found = true
		}
	}

	return best, found
}

// Archive requests, reports or fetches the retrieval of one archive.
func (c *Coordinator) Archive(ctx context.Context, vault, archiveID string, sink Sink) (ArchiveOutcome, error) {
	if err := validate.VaultName(vault); err != nil {
		return ArchiveOutcome{}, err
	}
	if err := validate.ArchiveID(archiveID); err != nil {
		return ArchiveOutcome{}, err
	}
	log := c.logger().With("vault", vault, "archive_id", archiveID)

	jobs, err := c.Client.ListJobs(ctx, vault)
	if err != nil {
		return ArchiveOutcome{}, err
	}

	job, found := pickArchiveJob(jobs, archiveID)
	switch {
	case !found:
		id, err := c.start(ctx, vault, glacier.JobRequest{Kind: glacier.JobArchiveRetrieval, ArchiveID: archiveID})
		if err != nil {
			return ArchiveOutcome{}, err
		}
		log.Info(ctx, "archive retrieval job started", "job_id", id)
		return ArchiveOutcome{State: StateStarted, JobID: id}, nil

	case job.Status == glacier.StatusFailed:
		id, err := c.start(ctx, vault, glacier.JobRequest{Kind: glacier.JobArchiveRetrieval, ArchiveID: archiveID})
		if err != nil {
			return ArchiveOutcome{}, err
		}
		log.Warn(ctx, "previous retrieval job failed, started a new one",
			"failed_job_id", job.ID, "status_message", job.StatusMessage, "job_id", id)
		return ArchiveOutcome{State: StateFailed, JobID: id, FailedJobID: job.ID, StatusMessage: job.StatusMessage}, nil

	case job.Status != glacier.StatusSucceeded:
		log.Info(ctx, "archive retrieval job pending", "job_id", job.ID)
		return ArchiveOutcome{State: StatePending, JobID: job.ID}, nil
	}

	if sink == nil {
		return ArchiveOutcome{}, common.Validation("get archive", "job output is ready but no destination was given")
	}
	n, err := c.fetch(ctx, vault, job, sink)
	if err != nil {
		return ArchiveOutcome{}, err
	}
	log.Info(ctx, "archive fetched", "job_id", job.ID, "bytes", n, "sink", sink.String())
	return ArchiveOutcome{State: StateFetched, JobID: job.ID, Bytes: n}, nil
}

func (c *Coordinator) start(ctx context.Context, vault string, req glacier.JobRequest) (string, error) {
	return c.Client.InitiateJob(ctx, vault, req)
}

// fetch streams the job output into sink in bounded chunks, verifying the
// tree hash when the job reports one. The sink is committed only after a
// successful verification.
func (c *Coordinator) fetch(ctx context.Context, vault string, job glacier.Job, sink Sink) (int64, error) {
	out, err := c.Client.GetJobOutput(ctx, vault, job.ID)
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()

	acc := treehash.New()
	buf := make([]byte, c.chunkSize())

	n, err := io.CopyBuffer(io.MultiWriter(sink, acc), onlyReader{out.Body}, buf)
	if err != nil {
		_ = sink.Abort()
		if kind := common.KindOf(err); kind != "" {
			return n, err
		}
		return n, common.Transport("get job output", err)
	}

	if want := expectedHash(job, out); want != "" && n > 0 {
		got, _ := acc.Sum()
		if got.String() != want {
			_ = sink.Abort()
			return n, common.Integrity("get job output", got.String(), want)
		}
	}

	if err := sink.Commit(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// expectedHash is the digest the output must match, preferring the one the
// job recorded over the response header.
func expectedHash(job glacier.Job, out *glacier.JobOutput) string {
	if job.TreeHash != "" {
		return job.TreeHash
	}
	return out.Checksum
}

// onlyReader hides WriterTo so CopyBuffer uses the bounded buffer.
type onlyReader struct {
	io.Reader
}

func freshestInventory(jobs []glacier.Job) (glacier.Job, bool) {
	var done []glacier.Job
	for _, j := range jobs {
		if j.Kind == glacier.JobInventoryRetrieval && j.Status == glacier.StatusSucceeded {
			done = append(done, j)
		}
	}
	if len(done) == 0 {
		return glacier.Job{}, false
	}

	sort.SliceStable(done, func(a, b int) bool {
		return done[a].CompletionDate.After(done[b].CompletionDate)
	})
	return done[0], true
}

func runningInventory(jobs []glacier.Job) (glacier.Job, bool) {
	for _, j := range jobs {
		if j.Kind == glacier.JobInventoryRetrieval && j.Status == glacier.StatusInProgress {
			return j, true
		}
	}
	return glacier.Job{}, false
}

// Inventory shows the freshest finished inventory of vault. With none
// listed a job is started and the newest stored snapshot, if the index has
// one, is shown meanwhile. When the freshest one is older than
// MaxInventoryAge it is still shown and a refresh is started alongside,
// unless one is already running. force only starts a new job.
//
// sink, when not nil, also receives the raw inventory document.
func (c *Coordinator) Inventory(ctx context.Context, vault string, force bool, sink Sink) (InventoryOutcome, error) {
	if err := validate.VaultName(vault); err != nil {
		return InventoryOutcome{}, err
	}
	log := c.logger().With("vault", vault)
	req := glacier.JobRequest{Kind: glacier.JobInventoryRetrieval, Format: "JSON"}

	if force {
		id, err := c.start(ctx, vault, req)
		if err != nil {
			return InventoryOutcome{}, err
		}
		log.Info(ctx, "inventory job started", "job_id", id)
		return InventoryOutcome{Started: true, StartedJobID: id}, nil
	}

	jobs, err := c.Client.ListJobs(ctx, vault)
	if err != nil {
		return InventoryOutcome{}, err
	}

	var res InventoryOutcome
	running, isRunning := runningInventory(jobs)
	if isRunning {
		res.PendingJobID = running.ID
	}

	job, ok := freshestInventory(jobs)
	if !ok {
		// Finished jobs expire from the listing; fall back to the stored copy.
		c.cachedInventory(ctx, vault, &res)
		if isRunning {
			log.Info(ctx, "inventory job pending", "job_id", running.ID)
			return res, nil
		}
		id, err := c.start(ctx, vault, req)
		if err != nil {
			return InventoryOutcome{}, err
		}
		log.Info(ctx, "no inventory job listed, job started", "job_id", id)
		res.Started, res.StartedJobID = true, id
		return res, nil
	}

	inv, err := c.fetchInventory(ctx, vault, job, sink)
	if err != nil {
		return InventoryOutcome{}, err
	}
	res.Inventory = inv
	res.JobID = job.ID
	res.Stale = c.now().Sub(job.CompletionDate) > c.maxAge()

	if res.Stale && !isRunning {
		id, err := c.start(ctx, vault, req)
		if err != nil {
			return res, err
		}
		log.Info(ctx, "inventory is stale, refresh started", "job_id", id, "completed", job.CompletionDate)
		res.Started, res.StartedJobID = true, id
	}

	return res, nil
}

// cachedInventory fills res from the newest stored snapshot, if any.
func (c *Coordinator) cachedInventory(ctx context.Context, vault string, res *InventoryOutcome) {
	if c.Index == nil {
		return
	}
	log := c.logger().With("vault", vault)

	snap, err := c.Index.LatestInventory(ctx, c.Region, vault)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			log.Warn(ctx, "reading stored inventory failed", "error", err)
		}
		return
	}

	inv := &Inventory{}
	if err := json.Unmarshal(snap.Body, inv); err != nil {
		log.Warn(ctx, "stored inventory is malformed", "job_id", snap.JobID, "error", err)
		return
	}
	res.Inventory = inv
	res.JobID = snap.JobID
	res.Cached = true
	res.Stale = c.now().Sub(snap.InventoryDate) > c.maxAge()
}

// fetchInventory spools the job output to a temporary file, decodes it from
// there once the tree hash verified and stores the snapshot when an index is
// configured.
func (c *Coordinator) fetchInventory(ctx context.Context, vault string, job glacier.Job, sink Sink) (*Inventory, error) {
	spool, err := os.CreateTemp("", "glacier-inventory-*")
	if err != nil {
		return nil, common.Unavailable("spool inventory", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	var dst Sink = NewWriterSink(spool)
	if sink != nil {
		dst = &teeSink{Sink: sink, copy: spool}
	}
	if _, err := c.fetch(ctx, vault, job, dst); err != nil {
		return nil, err
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, common.Unavailable("spool inventory", err)
	}
	inv := &Inventory{}
	if err := json.NewDecoder(bufio.NewReader(spool)).Decode(inv); err != nil {
		return nil, common.Rejection("parse inventory", 0, fmt.Sprintf("job %s returned malformed inventory: %v", job.ID, err))
	}

	if c.Index != nil {
		c.storeInventory(ctx, vault, job, inv, spool)
	}
	return inv, nil
}

// storeInventory writes the spooled document to the index. Failures are
// logged; the inventory is still shown.
func (c *Coordinator) storeInventory(ctx context.Context, vault string, job glacier.Job, inv *Inventory, spool *os.File) {
	log := c.logger().With("vault", vault, "job_id", job.ID)

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		log.Warn(ctx, "storing inventory snapshot failed", "error", err)
		return
	}
	body, err := io.ReadAll(spool)
	if err != nil {
		log.Warn(ctx, "storing inventory snapshot failed", "error", err)
		return
	}

	snap := index.InventorySnapshot{
		Region:        c.Region,
		Vault:         vault,
		JobID:         job.ID,
		InventoryDate: inv.InventoryDate,
		Body:          body,
	}
	if snap.InventoryDate.IsZero() {
		snap.InventoryDate = job.CompletionDate
	}
	if err := c.Index.PutInventory(ctx, snap); err != nil {
		log.Warn(ctx, "storing inventory snapshot failed", "error", err)
	}
}

// teeSink keeps a copy of what it forwards.
type teeSink struct {
	Sink
	copy io.Writer
}

func (t *teeSink) Write(p []byte) (int, error) {
	n, err := t.Sink.Write(p)
	if _, cerr := t.copy.Write(p[:n]); cerr != nil && err == nil {
		return n, common.Unavailable("spool inventory", cerr)
	}
	return n, err
}

// Download resolves q through the index to exactly one archive and runs
// Archive for it.
func (c *Coordinator) Download(ctx context.Context, q index.Query, sink Sink) (ArchiveOutcome, *index.Record, error) {
	const op = "download"

	if c.Index == nil {
		return ArchiveOutcome{}, nil, common.Validation(op, "bookkeeping is disabled; use getarchive with an archive id")
	}
	if q.Region == "" {
		q.Region = c.Region
	}

	recs, err := c.Index.QueryByPrefix(ctx, q)
	if err != nil {
		return ArchiveOutcome{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	switch len(recs) {
	case 0:
		return ArchiveOutcome{}, nil, common.Unavailable(op, fmt.Errorf("no archive matches %q: %w", q.Prefix, common.ErrorNotFound))
	case 1:
	default:
		names := make([]string, 0, len(recs))
		for _, r := range recs {
			names = append(names, fmt.Sprintf("%s (vault %s)", r.Filename, r.Vault))
		}
		return ArchiveOutcome{}, nil, common.Validationf(op, "%q matches %d archives, be more specific: %s",
			q.Prefix, len(recs), strings.Join(names, ", "))
	}

	rec := recs[0]
	res, err := c.Archive(ctx, rec.Vault, rec.ArchiveID, sink)
	if err != nil {
		return ArchiveOutcome{}, &rec, err
	}
	return res, &rec, nil
}

// IsPending reports whether an outcome means the caller should come back
// later.
func (o ArchiveOutcome) IsPending() bool {
	return o.State == StateStarted || o.State == StatePending || o.State == StateFailed
}
