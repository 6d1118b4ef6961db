// Package archive copies revision snapshots to an S3-compatible bucket as JSON
// documents, one object per revision. Objects are write-once, like the
// revisions they mirror.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/config"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/revision"
)

// objectClient is the part of *minio.Client the archive uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Document is the archived form of one revision.
type Document struct {
	ContentID  string            `json:"contentId"`
	Revision   revision.Revision `json:"revision"`
	Blocks     []revision.Block  `json:"blocks"`
	ArchivedAt time.Time         `json:"archivedAt"`
}

type Service struct {
	client objectClient
	bucket string
	log    zerolog.Logger
	now    func() time.Time
}

// NewService connects to the bucket described by cfg. A disabled config
// yields a Service whose Archive is a no-op.
func NewService(ctx context.Context, cfg config.ArchiveConfig, log zerolog.Logger) (*Service, error) {
	log = log.With().Str("component", "archive").Logger()
	if !cfg.Enabled() {
		log.Warn().Msg("revision archive disabled - no configuration provided")
		return &Service{log: log, now: time.Now}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	svc := newService(client, cfg.Bucket, log)
	if err := svc.ensureBucket(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("revision archive initialized")
	return svc, nil
}

func newService(client objectClient, bucket string, log zerolog.Logger) *Service {
	return &Service{client: client, bucket: bucket, log: log, now: time.Now}
}

func (s *Service) Enabled() bool {
	return s.client != nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create archive bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Key is the object name of a revision. The revision id is part of the name
// so that two revisions sharing a number never overwrite each other.
func Key(contentID string, number int, revisionID string) string {
	return fmt.Sprintf("revisions/%s/%d-%s.json", contentID, number, revisionID)
}

// Archive uploads a snapshot and returns its object key. It returns "" and no
// error when archiving is disabled.
func (s *Service) Archive(ctx context.Context, snapshot revision.Snapshot) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	rev := snapshot.Revision
	doc := Document{
		ContentID:  rev.ContentID,
		Revision:   rev,
		Blocks:     snapshot.Blocks,
		ArchivedAt: s.now().UTC(),
	}
	if doc.Blocks == nil {
		doc.Blocks = []revision.Block{}
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal archive document: %w", err)
	}

	key := Key(rev.ContentID, rev.RevisionNumber, rev.ID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"content-id":      rev.ContentID,
			"revision-number": fmt.Sprint(rev.RevisionNumber),
		},
	})
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("failed to archive revision")
		return "", fmt.Errorf("archive revision %s: %w", rev.ID, err)
	}
	s.log.Debug().Str("key", key).Int("bytes", len(payload)).Msg("revision archived")
	return key, nil
}
