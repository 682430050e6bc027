// Package upload streams an archive to a vault as a multipart upload.
//
// A Session validates its input, picks a part size, opens the remote upload
// and then accepts bytes through Write, cutting them into parts of exactly
// the declared size. Every part is tree hashed locally and the hash is sent
// along for server side verification. Complete uploads the final short part,
// finishes the upload and checks the service's digest against the local
// root hash.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/glacier"
	"github.com/dmitrijs2005/glacierkeeper/internal/index"
	"github.com/dmitrijs2005/glacierkeeper/internal/logging"
	"github.com/dmitrijs2005/glacierkeeper/internal/partsize"
	"github.com/dmitrijs2005/glacierkeeper/internal/progress"
	"github.com/dmitrijs2005/glacierkeeper/internal/treehash"
	"github.com/dmitrijs2005/glacierkeeper/internal/validate"
)

const op = "upload"

// readBufferSize bounds a single read from the input in Upload.
const readBufferSize = common.MiB

// Params describes what is being uploaded.
type Params struct {
	Vault       string
	Description string
	// Filename keys the bookkeeping record. Defaults to Description.
	Filename string
	Region   string

	Size      uint64
	SizeKnown bool
	// PartSizeMiB overrides the selected part size.
	PartSizeMiB *uint64
}

// Deps are the collaborators of a Session. Client is required.
type Deps struct {
	Client   glacier.Uploader
	Index    index.Repository
	Logger   logging.Logger
	Selector *partsize.Selector
	Progress *progress.Printer
	Clock    func() time.Time

	// Retries is the number of extra attempts for a part that failed with a
	// transport error.
	Retries int
	// Concurrency bounds the parts in flight. Values below 2 upload parts
	// one by one from Write.
	Concurrency int
}

type state int

const (
	stateWriting state = iota
	stateCompleted
	stateAborted
)

// Result is returned by a completed session.
type Result struct {
	SessionID  string
	UploadID   string
	ArchiveID  string
	Location   string
	TreeHash   string
	LinearHash string
	Size       uint64
	Parts      int
	PartSize   uint64
	// IndexErr is set when the archive was stored but the bookkeeping
	// record could not be written.
	IndexErr error
}

type Session struct {
	// ctx is the context New was called with. Write runs under it.
	ctx context.Context

	id       string
	params   Params
	deps     Deps
	log      logging.Logger
	upload   glacier.Upload
	partSize uint64

	acc    *treehash.Accumulator
	buf    []byte
	offset uint64
	parts  int
	state  state

	group    *errgroup.Group
	groupCtx context.Context
	failure  error
}

// New validates p, selects the part size and initiates the remote upload.
// Nothing is sent to the service when validation fails.
func New(ctx context.Context, p Params, d Deps) (*Session, error) {
	if err := validate.VaultName(p.Vault); err != nil {
		return nil, err
	}
	if err := validate.Description(p.Description); err != nil {
		return nil, err
	}
	if d.Client == nil {
		return nil, errors.New("upload: no client configured")
	}

	if d.Selector == nil {
		d.Selector = partsize.NewSelector(0)
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Retries < 0 {
		d.Retries = 0
	}
	if p.Filename == "" {
		p.Filename = p.Description
	}

	partSize, err := d.Selector.Select(p.SizeKnown, p.Size, p.PartSizeMiB)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := d.Logger.With("session_id", id, "vault", p.Vault, "part_size", partSize)

	up, err := d.Client.InitiateMultipartUpload(ctx, p.Vault, p.Description, partSize)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "multipart upload initiated", "upload_id", up.ID)

	s := &Session{
		ctx:      ctx,
		id:       id,
		params:   p,
		deps:     d,
		log:      log.With("upload_id", up.ID),
		upload:   up,
		partSize: partSize,
		acc:      treehash.New(),
		buf:      make([]byte, 0, partSize),
	}

	if d.Concurrency > 1 {
		s.group, s.groupCtx = errgroup.WithContext(ctx)
		s.group.SetLimit(d.Concurrency)
	}

	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) UploadID() string {
	return s.upload.ID
}

func (s *Session) PartSize() uint64 {
	return s.partSize
}

// Write buffers p and uploads every part it fills. A failed part aborts the
// session; the error is returned from this or a later call.
func (s *Session) Write(p []byte) (int, error) {
	if s.state != stateWriting {
		return 0, fmt.Errorf("%s: session is no longer accepting data", op)
	}
	if err := s.pending(); err != nil {
		return 0, s.fail(err)
	}
	if err := s.ctx.Err(); err != nil {
		return 0, s.fail(err)
	}

	written := 0
	for len(p) > 0 {
		room := int(s.partSize) - len(s.buf)
		if room > len(p) {
			room = len(p)
		}
		s.buf = append(s.buf, p[:room]...)
		p = p[room:]
		written += room

		if uint64(len(s.buf)) == s.partSize {
			if err := s.flush(); err != nil {
				return written, s.fail(err)
			}
		}
	}

	return written, nil
}

// flush hashes the buffered part and uploads it, or hands it to the worker
// group when uploads run concurrently.
func (s *Session) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	if uint64(s.parts) >= common.MaxParts {
		return common.Validationf(op, "archive needs more than %d parts of %d bytes; pass a larger part size", common.MaxParts, s.partSize)
	}

	s.acc.Write(s.buf)
	digest := s.acc.ClosePart()

	start := s.offset
	part := s.parts
	s.offset += uint64(len(s.buf))
	s.parts++

	if s.group == nil {
		err := s.uploadPart(s.ctx, part, start, s.buf, digest)
		s.buf = s.buf[:0]
		return err
	}

	data := s.buf
	s.buf = make([]byte, 0, s.partSize)

	if err := s.groupCtx.Err(); err != nil {
		return s.pending()
	}
	s.group.Go(func() error {
		return s.uploadPart(s.groupCtx, part, start, data, digest)
	})
	return nil
}

func (s *Session) uploadPart(ctx context.Context, part int, start uint64, data []byte, digest treehash.Hash) error {
	want := digest.String()
	log := s.log.With("part", part, "offset", start, "bytes", len(data))

	var err error
	for attempt := 0; attempt <= s.deps.Retries; attempt++ {
		var got string
		got, err = s.deps.Client.UploadPart(ctx, s.params.Vault, s.upload.ID, start, data, want)
		if err == nil {
			if got != "" && got != want {
				return common.Integrity(fmt.Sprintf("upload part %d", part), want, got)
			}
			log.Debug(ctx, "part uploaded", "attempt", attempt+1)
			return nil
		}

		if !common.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		log.Warn(ctx, "part upload failed, retrying", "attempt", attempt+1, "error", err)
	}

	return err
}

// pending reports a concurrent part failure once one has cancelled the
// worker group.
func (s *Session) pending() error {
	if s.group == nil || s.groupCtx.Err() == nil {
		return nil
	}
	return s.wait()
}

func (s *Session) wait() error {
	if s.group == nil {
		return nil
	}
	err := s.group.Wait()
	if err == nil && s.ctx.Err() != nil {
		err = s.ctx.Err()
	}
	return err
}

// fail aborts the session because of err. A failed abort is attached to the
// returned error without changing its kind.
func (s *Session) fail(err error) error {
	if s.state == stateAborted && s.failure != nil {
		return s.failure
	}

	if s.group != nil {
		_ = s.group.Wait()
	}

	s.log.Error(s.ctx, "upload failed, aborting", "error", err)
	if abortErr := s.Abort(context.WithoutCancel(s.ctx)); abortErr != nil {
		err = fmt.Errorf("%w (abort of upload %s also failed: %v)", err, s.upload.ID, abortErr)
	}

	s.failure = err
	return err
}

// Abort cancels the remote upload. It is best-effort: the error is logged
// and returned for reporting only.
func (s *Session) Abort(ctx context.Context) error {
	if s.state != stateWriting {
		return nil
	}
	s.state = stateAborted

	if err := s.deps.Client.AbortMultipartUpload(ctx, s.params.Vault, s.upload.ID); err != nil {
		s.log.Warn(ctx, "abort multipart upload failed", "error", err)
		return err
	}
	s.log.Info(ctx, "multipart upload aborted")
	return nil
}

// Complete uploads the last part and finishes the upload. A failure of the
// completion call itself leaves the remote upload open so it can be
// inspected or aborted by id.
func (s *Session) Complete(ctx context.Context) (*Result, error) {
	switch s.state {
	case stateAborted:
		if s.failure != nil {
			return nil, s.failure
		}
		return nil, fmt.Errorf("%s: session was aborted", op)
	case stateCompleted:
		return nil, fmt.Errorf("%s: session already completed", op)
	}

	if err := s.flush(); err != nil {
		return nil, s.fail(err)
	}
	if err := s.wait(); err != nil {
		return nil, s.fail(err)
	}

	root, err := s.acc.Sum()
	if errors.Is(err, treehash.ErrEmpty) {
		return nil, s.fail(common.Validation(op, "nothing to upload: the input is empty"))
	}
	if err != nil {
		return nil, s.fail(err)
	}

	size := s.acc.Size()
	archive, err := s.deps.Client.CompleteMultipartUpload(ctx, s.params.Vault, s.upload.ID, size, root.String())
	if err != nil {
		s.log.Error(ctx, "complete multipart upload failed; upload left open", "error", err)
		return nil, err
	}
	s.state = stateCompleted

	if archive.Checksum != root.String() {
		s.log.Error(ctx, "service digest differs from local tree hash", "archive_id", archive.ID, "remote", archive.Checksum, "local", root.String())
		return nil, common.Integrity("complete multipart upload", root.String(), archive.Checksum)
	}

	res := &Result{
		SessionID:  s.id,
		UploadID:   s.upload.ID,
		ArchiveID:  archive.ID,
		Location:   archive.Location,
		TreeHash:   root.String(),
		LinearHash: s.acc.Linear().String(),
		Size:       size,
		Parts:      s.parts,
		PartSize:   s.partSize,
	}
	s.log.Info(ctx, "archive created", "archive_id", res.ArchiveID, "size", res.Size, "parts", res.Parts)

	if s.deps.Index != nil {
		rec := index.Record{
			Region:      s.params.Region,
			Vault:       s.params.Vault,
			Filename:    s.params.Filename,
			ArchiveID:   archive.ID,
			Location:    archive.Location,
			Description: s.params.Description,
			UploadedAt:  s.deps.Clock().UTC(),
			TreeHash:    res.TreeHash,
		}
		if err := s.deps.Index.Put(ctx, rec); err != nil {
			s.log.Error(ctx, "bookkeeping write failed; archive is stored", "archive_id", archive.ID, "error", err)
			res.IndexErr = err
		}
	}

	return res, nil
}

// Upload streams r into the session in bounded reads, reporting progress
// after each one, and completes it.
func (s *Session) Upload(ctx context.Context, r io.Reader) (*Result, error) {
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(err)
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				return nil, werr
			}
			if s.deps.Progress != nil {
				s.deps.Progress.Add(n)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, s.fail(common.Unavailable("read input", err))
		}
	}

	return s.Complete(ctx)
}
