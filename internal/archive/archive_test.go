package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/config"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/revision"
)

type fakeObjectClient struct {
	bucketExistsFn func(ctx context.Context, bucket string) (bool, error)
	makeBucketFn   func(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	putObjectFn    func(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

func (f *fakeObjectClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if f.bucketExistsFn == nil {
		return true, nil
	}
	return f.bucketExistsFn(ctx, bucket)
}

func (f *fakeObjectClient) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	if f.makeBucketFn == nil {
		return nil
	}
	return f.makeBucketFn(ctx, bucket, opts)
}

func (f *fakeObjectClient) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putObjectFn == nil {
		return minio.UploadInfo{}, nil
	}
	return f.putObjectFn(ctx, bucket, object, reader, size, opts)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "revisions/cnt_1/3-rev_9.json", Key("cnt_1", 3, "rev_9"))
}

func TestDisabledServiceIsNoop(t *testing.T) {
	svc, err := NewService(context.Background(), config.ArchiveConfig{Bucket: "revisions"}, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	key, err := svc.Archive(context.Background(), revision.Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestArchiveUploadsDocument(t *testing.T) {
	var (
		gotBucket, gotKey string
		gotDoc            Document
		gotOpts           minio.PutObjectOptions
	)
	client := &fakeObjectClient{
		putObjectFn: func(_ context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
			gotBucket, gotKey, gotOpts = bucket, object, opts
			raw, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, int64(len(raw)), size)
			require.NoError(t, json.Unmarshal(raw, &gotDoc))
			return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
		},
	}
	svc := newService(client, "revisions", zerolog.Nop())
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	snapshot := revision.Snapshot{
		Revision: revision.Revision{ID: "rev_1", ContentID: "cnt_1", RevisionNumber: 2, Title: "Hello", IsCurrent: true},
		Blocks:   []revision.Block{{ID: "rvb_1", BlockType: "paragraph", Position: 0, Content: map[string]any{"text": "hi"}}},
	}
	key, err := svc.Archive(context.Background(), snapshot)
	require.NoError(t, err)

	assert.Equal(t, "revisions/cnt_1/2-rev_1.json", key)
	assert.Equal(t, "revisions", gotBucket)
	assert.Equal(t, key, gotKey)
	assert.Equal(t, "application/json", gotOpts.ContentType)
	assert.Equal(t, "2", gotOpts.UserMetadata["revision-number"])
	assert.Equal(t, "cnt_1", gotDoc.ContentID)
	assert.Equal(t, "Hello", gotDoc.Revision.Title)
	assert.Equal(t, fixed, gotDoc.ArchivedAt)
	require.Len(t, gotDoc.Blocks, 1)
	assert.Equal(t, map[string]any{"text": "hi"}, gotDoc.Blocks[0].Content)
}

func TestArchiveError(t *testing.T) {
	client := &fakeObjectClient{
		putObjectFn: func(context.Context, string, string, io.Reader, int64, minio.PutObjectOptions) (minio.UploadInfo, error) {
			return minio.UploadInfo{}, errors.New("bucket offline")
		},
	}
	svc := newService(client, "revisions", zerolog.Nop())
	_, err := svc.Archive(context.Background(), revision.Snapshot{Revision: revision.Revision{ID: "rev_1"}})
	assert.ErrorContains(t, err, "bucket offline")
}

func TestEnsureBucket(t *testing.T) {
	made := ""
	client := &fakeObjectClient{
		bucketExistsFn: func(context.Context, string) (bool, error) { return false, nil },
		makeBucketFn: func(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
			made = bucket
			return nil
		},
	}
	svc := newService(client, "revisions", zerolog.Nop())
	require.NoError(t, svc.ensureBucket(context.Background()))
	assert.Equal(t, "revisions", made)

	client.bucketExistsFn = func(context.Context, string) (bool, error) { return false, errors.New("denied") }
	assert.ErrorContains(t, svc.ensureBucket(context.Background()), "denied")
}
