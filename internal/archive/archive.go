// Package archive persists the terminal state of runs to blob storage
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/agentflow/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

type (
	// BlobArchiver writes each terminal RunState as a JSON object under
	// <prefix>/runs/<run id>.json
	BlobArchiver struct {
		bucket Bucket
		prefix string
	}

	// Bucket is the subset of *blob.Bucket the archiver needs
	Bucket interface {
		WriteAll(context.Context, string, []byte, *blob.WriterOptions) error
		ReadAll(context.Context, string) ([]byte, error)
		Close() error
	}
)

const (
	runsSegment = "runs/"
	jsonSuffix  = ".json"
)

var (
	ErrBucketRequired   = errors.New("bucket is required")
	ErrRunStateRequired = errors.New("run state is required")
	ErrRunNotArchived   = errors.New("run not archived")
)

// Open opens the bucket at bucketURL
func Open(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return New(bucket, prefix)
}

// New creates an archiver over an open bucket
func New(bucket Bucket, prefix string) (*BlobArchiver, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	return &BlobArchiver{
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Archive writes st to the bucket
func (a *BlobArchiver) Archive(ctx context.Context, st *api.RunState) error {
	if st == nil {
		return ErrRunStateRequired
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.keyFor(st.ID), data, &blob.WriterOptions{
		ContentType: "application/json",
	})
}

// Get reads an archived run state
func (a *BlobArchiver) Get(
	ctx context.Context, id api.RunID,
) (*api.RunState, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrRunNotArchived
		}
		return nil, err
	}
	var st api.RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Close closes the bucket
func (a *BlobArchiver) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchiver) keyFor(id api.RunID) string {
	prefix := a.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + runsSegment + string(id) + jsonSuffix
}
