package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/agentflow/pkg/api"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobLoader is a ResourceLoader reading from named blob buckets. Locators
// take the form "<bucket>/<key>". JSON content is decoded, other text is
// returned as a string and anything else as bytes
type BlobLoader struct {
	buckets map[string]*blob.Bucket
}

var _ api.ResourceLoader = (*BlobLoader)(nil)

var (
	ErrInvalidLocator  = errors.New("invalid resource locator")
	ErrUnknownBucket   = errors.New("unknown bucket")
	ErrResourceMissing = errors.New("resource not found")
)

// OpenBlobLoader opens every bucket URL in buckets, keyed by name
func OpenBlobLoader(
	ctx context.Context, buckets map[string]string,
) (*BlobLoader, error) {
	res := &BlobLoader{buckets: map[string]*blob.Bucket{}}
	for name, url := range buckets {
		b, err := blob.OpenBucket(ctx, url)
		if err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("bucket %s: %w", name, err)
		}
		res.buckets[name] = b
	}
	return res, nil
}

// NewBlobLoader creates a loader over already opened buckets
func NewBlobLoader(buckets map[string]*blob.Bucket) *BlobLoader {
	return &BlobLoader{buckets: buckets}
}

// Fetch reads the resource named by locator
func (l *BlobLoader) Fetch(ctx context.Context, locator string) (any, error) {
	name, key, ok := strings.Cut(locator, "/")
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLocator, locator)
	}
	b, ok := l.buckets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBucket, name)
	}

	data, err := b.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrResourceMissing, locator)
		}
		return nil, retryable(err)
	}
	return decodeResource(data), nil
}

// Close closes every bucket
func (l *BlobLoader) Close() error {
	var errs []error
	for _, b := range l.buckets {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

func decodeResource(data []byte) any {
	if json.Valid(data) {
		var res any
		if err := json.Unmarshal(data, &res); err == nil {
			return res
		}
	}
	if utf8.Valid(data) {
		return string(data)
	}
	return data
}
