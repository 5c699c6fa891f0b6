package capability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocloud.dev/blob"

	"github.com/kode4food/agentflow/internal/capability"
)

func TestBlobLoaderFetch(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	assert.NoError(t, err)

	assert.NoError(t, bucket.WriteAll(ctx, "filings/A.json",
		[]byte(`{"name":"Apple","revenue":1000}`), nil))
	assert.NoError(t, bucket.WriteAll(ctx, "notes/A.txt",
		[]byte("plain text"), nil))
	assert.NoError(t, bucket.WriteAll(ctx, "raw/A.bin",
		[]byte{0xff, 0xfe, 0x00}, nil))

	l := capability.NewBlobLoader(map[string]*blob.Bucket{"sec": bucket})
	defer func() { _ = l.Close() }()

	res, err := l.Fetch(ctx, "sec/filings/A.json")
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name": "Apple", "revenue": float64(1000),
	}, res)

	res, err = l.Fetch(ctx, "sec/notes/A.txt")
	assert.NoError(t, err)
	assert.Equal(t, "plain text", res)

	res, err = l.Fetch(ctx, "sec/raw/A.bin")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfe, 0x00}, res)

	_, err = l.Fetch(ctx, "sec/missing.json")
	assert.ErrorIs(t, err, capability.ErrResourceMissing)

	_, err = l.Fetch(ctx, "other/A.json")
	assert.ErrorIs(t, err, capability.ErrUnknownBucket)

	_, err = l.Fetch(ctx, "no-key")
	assert.ErrorIs(t, err, capability.ErrInvalidLocator)
}

func TestOpenBlobLoader(t *testing.T) {
	ctx := context.Background()
	l, err := capability.OpenBlobLoader(ctx, map[string]string{
		"docs": "mem://",
	})
	assert.NoError(t, err)
	assert.NoError(t, l.Close())

	_, err = capability.OpenBlobLoader(ctx, map[string]string{
		"bad": "nope://bucket",
	})
	assert.Error(t, err)
}
