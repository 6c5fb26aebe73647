// Package backup pushes users' committed artifact sets to S3 and restores them.
//
// A snapshot of a user is five objects under <prefix>/<userID>/: the four artifacts and a
// manifest written last. The manifest records each artifact's SHA-256, so a pull never
// mixes artifacts from two pushes.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
)

// ManifestFile is the object written after the artifacts of a snapshot.
const ManifestFile = "manifest.json"

// ErrNoSnapshot is returned by Pull when no snapshot exists for the user.
var ErrNoSnapshot = errors.New("backup: no snapshot")

const pushAttempts = 3

// S3Client abstracts the S3 operations used by Snapshotter. *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Manifest describes one snapshot.
type Manifest struct {
	UserID    string            `json:"user_id"`
	CreatedAt time.Time         `json:"created_at"`
	Artifacts map[string]string `json:"artifacts"`
}

// Snapshotter copies artifact sets between an ArtifactStore and an S3 bucket.
type Snapshotter struct {
	client S3Client
	bucket string
	prefix string
	store  *storage.ArtifactStore
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Snapshotter.
type Option func(*Snapshotter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Snapshotter) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSnapshotter returns a Snapshotter storing objects in bucket under prefix ("" for none).
func NewSnapshotter(client S3Client, bucket, prefix string, store *storage.ArtifactStore, opts ...Option) *Snapshotter {
	s := &Snapshotter{
		client: client,
		bucket: bucket,
		prefix: prefix,
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewS3Client builds an S3 client from the backup config. Empty keys send unsigned requests,
// for public buckets and local S3 emulators.
func NewS3Client(cfg config.BackupConfig) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
		Credentials:  aws.AnonymousCredentials{},
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{AccessKeyID: cfg.AccessKeyID, SecretAccessKey: cfg.SecretAccessKey, Source: "kioku config"}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		}))
	}
	return s3.New(opts)
}

func (s *Snapshotter) key(userID, name string) string {
	return path.Join(s.prefix, userID, name)
}

// Push uploads userID's committed artifact set and then its manifest.
func (s *Snapshotter) Push(ctx context.Context, userID string) (m *Manifest, err error) {
	defer observe("push", &err)
	if err := indexer.ValidateUserID(userID); err != nil {
		return nil, err
	}
	files, err := s.readSet(userID)
	if err != nil {
		return nil, err
	}
	m = &Manifest{UserID: userID, CreatedAt: s.now().UTC(), Artifacts: make(map[string]string, len(files))}
	for _, name := range storage.ArtifactNames {
		data := files[name]
		if err := s.put(ctx, s.key(userID, name), data); err != nil {
			return nil, fmt.Errorf("upload %s of user %s: %w", name, userID, err)
		}
		m.Artifacts[name] = checksum(data)
	}
	manifest, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := s.put(ctx, s.key(userID, ManifestFile), manifest); err != nil {
		return nil, fmt.Errorf("upload manifest of user %s: %w", userID, err)
	}
	s.logger.Info("snapshot pushed", zap.String("user", userID), zap.String("bucket", s.bucket), zap.String("prefix", s.key(userID, "")))
	return m, nil
}

// readSet reads a consistent artifact set, retrying when a concurrent commit swapped the
// directory mid-read.
func (s *Snapshotter) readSet(userID string) (map[string][]byte, error) {
	var lastErr error
	for attempt := 0; attempt < pushAttempts; attempt++ {
		files, err := s.store.ReadSet(userID)
		if err == nil {
			return files, nil
		}
		lastErr = err
		if !errors.Is(err, storage.ErrCorruptState) {
			break
		}
	}
	return nil, fmt.Errorf("read artifacts of user %s: %w", userID, lastErr)
}

// Pull downloads userID's latest snapshot, verifies it against its manifest and commits it
// to the store. A resident copy of the user must be evicted by the caller.
func (s *Snapshotter) Pull(ctx context.Context, userID string) (m *Manifest, err error) {
	defer observe("pull", &err)
	if err := indexer.ValidateUserID(userID); err != nil {
		return nil, err
	}
	raw, err := s.get(ctx, s.key(userID, ManifestFile))
	if err != nil {
		return nil, err
	}
	m = &Manifest{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode manifest of user %s: %w", userID, err)
	}
	files := make(map[string][]byte, len(storage.ArtifactNames))
	for _, name := range storage.ArtifactNames {
		want, ok := m.Artifacts[name]
		if !ok {
			return nil, fmt.Errorf("manifest of user %s lists no %s", userID, name)
		}
		data, err := s.get(ctx, s.key(userID, name))
		if err != nil {
			return nil, err
		}
		if got := checksum(data); got != want {
			return nil, fmt.Errorf("%s of user %s changed since the manifest was written (sha256 %s, want %s)", name, userID, got, want)
		}
		files[name] = data
	}
	if err := s.store.Restore(userID, files); err != nil {
		return nil, fmt.Errorf("restore user %s: %w", userID, err)
	}
	s.logger.Info("snapshot restored", zap.String("user", userID), zap.Time("created_at", m.CreatedAt))
	return m, nil
}

func (s *Snapshotter) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}

func (s *Snapshotter) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, key)
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func observe(direction string, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	metrics.SnapshotsTotal.WithLabelValues(direction, status).Inc()
}
