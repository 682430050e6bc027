package retrieval

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/glacierkeeper/internal/awsx"
	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/filex"
)

// Sink receives job output. Nothing is published until Commit; Abort
// discards whatever was written.
type Sink interface {
	io.Writer
	Commit(ctx context.Context) error
	Abort() error
	String() string
}

// FileSink writes to Path through a temporary sibling that is renamed into
// place on Commit, so a failed or corrupt download never replaces the file.
type FileSink struct {
	Path string
	f    *os.File
}

func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

func (s *FileSink) tmpPath() string {
	return s.Path + ".partial"
}

func (s *FileSink) open() error {
	if s.f != nil {
		return nil
	}
	f, err := filex.Create(s.tmpPath())
	if err != nil {
		return common.Unavailable("create output file", err)
	}
	s.f = f
	return nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	if err := s.open(); err != nil {
		return 0, err
	}
	return s.f.Write(p)
}

func (s *FileSink) Commit(ctx context.Context) error {
	if err := s.open(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return common.Unavailable("close output file", err)
	}
	if err := os.Rename(s.tmpPath(), s.Path); err != nil {
		return common.Unavailable("rename output file", err)
	}
	return nil
}

func (s *FileSink) Abort() error {
	if s.f == nil {
		return nil
	}
	_ = s.f.Close()
	return os.Remove(s.tmpPath())
}

func (s *FileSink) String() string {
	return s.Path
}

// WriterSink streams straight to W, typically stdout. Abort cannot take
// back what was already written.
type WriterSink struct {
	W    io.Writer
	Name string
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{W: w, Name: "stdout"}
}

func (s *WriterSink) Write(p []byte) (int, error) {
	return s.W.Write(p)
}

func (s *WriterSink) Commit(ctx context.Context) error { return nil }

func (s *WriterSink) Abort() error { return nil }

func (s *WriterSink) String() string {
	return s.Name
}

// ObjectPutter is the part of the S3 client S3Sink needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
	return s3.NewFromConfig(cfg, optFns...)
}

// S3Sink spools the output to a temporary file and uploads it as one object
// on Commit, so the object only appears once the download verified.
type S3Sink struct {
	Bucket string
	Key    string
	Client ObjectPutter
	f      *os.File
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", common.Validationf("parse s3 url", "%q does not start with s3://", raw)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", common.Validationf("parse s3 url", "%q needs both a bucket and a key", raw)
	}
	return bucket, key, nil
}

// NewS3Sink builds an S3 client from s and returns a sink for s3url.
func NewS3Sink(ctx context.Context, s awsx.Settings, s3url string) (*S3Sink, error) {
	bucket, key, err := ParseS3URL(s3url)
	if err != nil {
		return nil, err
	}

	cfg, err := awsx.Load(ctx, s)
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if ep := s.BaseEndpoint(); ep != nil {
			o.BaseEndpoint = ep
			o.UsePathStyle = true
		}
	})

	return &S3Sink{Bucket: bucket, Key: key, Client: client}, nil
}

func (s *S3Sink) open() error {
	if s.f != nil {
		return nil
	}
	f, err := os.CreateTemp("", "glacier-s3-*")
	if err != nil {
		return common.Unavailable("create spool file", err)
	}
	s.f = f
	return nil
}

func (s *S3Sink) Write(p []byte) (int, error) {
	if err := s.open(); err != nil {
		return 0, err
	}
	return s.f.Write(p)
}

func (s *S3Sink) Commit(ctx context.Context) error {
	if err := s.open(); err != nil {
		return err
	}
	defer s.cleanup()

	size, err := s.f.Seek(0, io.SeekEnd)
	if err != nil {
		return common.Unavailable("spool file", err)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return common.Unavailable("spool file", err)
	}

	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(s.Key),
		Body:          s.f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return common.Transport("put object", fmt.Errorf("s3://%s/%s: %w", s.Bucket, s.Key, err))
	}
	return nil
}

func (s *S3Sink) cleanup() {
	if s.f == nil {
		return
	}
	name := s.f.Name()
	_ = s.f.Close()
	_ = os.Remove(name)
	s.f = nil
}

func (s *S3Sink) Abort() error {
	s.cleanup()
	return nil
}

func (s *S3Sink) String() string {
	return "s3://" + s.Bucket + "/" + s.Key
}
