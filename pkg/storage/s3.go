package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API used by S3Store. *s3.Client
// satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store keeps files as objects of one bucket, optionally under a key
// prefix. It works with any S3-compatible endpoint the client is
// configured for.
type S3Store struct {
	client S3Client
	bucket string
	prefix string

	// ContentType is set on uploaded objects when non-empty.
	ContentType string
}

// NewS3 returns an S3Store. prefix may be empty.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

func (s *S3Store) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("storage: s3 %s: %w", p, os.ErrNotExist)
		}
		return nil, fmt.Errorf("storage: s3 get %s: %w", p, err)
	}
	return out.Body, nil
}

// Write buffers the object and uploads it with a single PutObject when the
// writer is closed. Checkpoints are small enough that a multipart upload
// is not worth its bookkeeping.
func (s *S3Store) Write(ctx context.Context, p string) (io.WriteCloser, error) {
	return &s3Object{ctx: ctx, store: s, path: p}, nil
}

func (s *S3Store) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("storage: s3 delete %s: %w", p, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("storage: s3 head %s: %w", p, err)
	}
}

type s3Object struct {
	ctx    context.Context
	store  *S3Store
	path   string
	buf    bytes.Buffer
	closed bool
}

func (o *s3Object) Write(b []byte) (int, error) {
	if o.closed {
		return 0, os.ErrClosed
	}
	return o.buf.Write(b)
}

func (o *s3Object) Close() error {
	if o.closed {
		return os.ErrClosed
	}
	o.closed = true
	in := &s3.PutObjectInput{
		Bucket:        aws.String(o.store.bucket),
		Key:           aws.String(o.store.key(o.path)),
		Body:          bytes.NewReader(o.buf.Bytes()),
		ContentLength: aws.Int64(int64(o.buf.Len())),
	}
	if o.store.ContentType != "" {
		in.ContentType = aws.String(o.store.ContentType)
	}
	if _, err := o.store.client.PutObject(o.ctx, in); err != nil {
		return fmt.Errorf("storage: s3 put %s: %w", o.path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}

var _ FileStore = (*S3Store)(nil)
