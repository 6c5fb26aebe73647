package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/storage"
)

var errNoSuchKey = &smithy.GenericAPIError{Code: "NoSuchKey", Message: "no such key"}

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func newStore(t *testing.T) *storage.ArtifactStore {
	t.Helper()
	store, err := storage.NewArtifactStore(filepath.Join(t.TempDir(), "users"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func sampleSet() *storage.Artifacts {
	return &storage.Artifacts{
		Dim:       2,
		Vectors:   [][]float32{{1, 0}, {0, 1}},
		Paths:     []string{"/p/a.jpg", "/p/b.jpg"},
		Captions:  map[string]string{"/p/a.jpg": "a boat"},
		IndexBlob: []byte("serialized index"),
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newMockS3()
	src := newStore(t)
	if err := src.Save("alice", sampleSet()); err != nil {
		t.Fatal(err)
	}
	pushed, err := NewSnapshotter(client, "bucket", "kioku", src).Push(ctx, "alice")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(pushed.Artifacts) != len(storage.ArtifactNames) {
		t.Errorf("manifest lists %d artifacts", len(pushed.Artifacts))
	}
	names := append([]string{ManifestFile}, storage.ArtifactNames...)
	for _, name := range names {
		if _, ok := client.objects["bucket/kioku/alice/"+name]; !ok {
			t.Errorf("object %s not uploaded", name)
		}
	}

	dst := newStore(t)
	pulled, err := NewSnapshotter(client, "bucket", "kioku", dst).Pull(ctx, "alice")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if !reflect.DeepEqual(pulled.Artifacts, pushed.Artifacts) {
		t.Errorf("pulled manifest %v, pushed %v", pulled.Artifacts, pushed.Artifacts)
	}
	got, err := dst.Load("alice")
	if err != nil {
		t.Fatalf("Load after pull: %v", err)
	}
	want := sampleSet()
	if !reflect.DeepEqual(got.Paths, want.Paths) || !reflect.DeepEqual(got.Vectors, want.Vectors) {
		t.Errorf("restored set differs: %+v", got)
	}
	if got.Captions["/p/a.jpg"] != "a boat" || !bytes.Equal(got.IndexBlob, want.IndexBlob) {
		t.Errorf("restored captions/index differ: %+v", got)
	}
}

func TestPullMissingSnapshot(t *testing.T) {
	_, err := NewSnapshotter(newMockS3(), "bucket", "", newStore(t)).Pull(context.Background(), "nobody")
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("err = %v, want ErrNoSnapshot", err)
	}
}

func TestPullRejectsTamperedArtifact(t *testing.T) {
	ctx := context.Background()
	client := newMockS3()
	src := newStore(t)
	if err := src.Save("alice", sampleSet()); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSnapshotter(client, "b", "", src).Push(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	client.objects["b/alice/"+storage.IndexFile] = []byte("from another push")

	dst := newStore(t)
	if _, err := NewSnapshotter(client, "b", "", dst).Pull(ctx, "alice"); err == nil {
		t.Fatal("Pull accepted an artifact that does not match the manifest")
	}
	if p, _ := dst.Presence("alice"); !p.None() {
		t.Errorf("failed pull left artifacts behind: %+v", p)
	}
}

func TestPushErrors(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	s := NewSnapshotter(newMockS3(), "b", "", store)

	if _, err := s.Push(ctx, "bad/user"); !errors.Is(err, indexer.ErrInvalidUser) {
		t.Errorf("invalid user err = %v", err)
	}
	if _, err := s.Push(ctx, "ghost"); !errors.Is(err, storage.ErrCorruptState) {
		t.Errorf("missing set err = %v", err)
	}

	if err := store.Save("alice", sampleSet()); err != nil {
		t.Fatal(err)
	}
	failing := newMockS3()
	failing.putErr = errors.New("access denied")
	if _, err := NewSnapshotter(failing, "b", "", store).Push(ctx, "alice"); err == nil {
		t.Error("Push ignored upload failure")
	}
}

func TestManifestTimestamp(t *testing.T) {
	store := newStore(t)
	if err := store.Save("alice", sampleSet()); err != nil {
		t.Fatal(err)
	}
	s := NewSnapshotter(newMockS3(), "b", "p", store)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	m, err := s.Push(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !m.CreatedAt.Equal(fixed) || m.UserID != "alice" {
		t.Errorf("manifest = %+v", m)
	}
	if s.key("alice", ManifestFile) != "p/alice/manifest.json" {
		t.Errorf("key = %s", s.key("alice", ManifestFile))
	}
}

func TestNewS3Client(t *testing.T) {
	c := NewS3Client(config.BackupConfig{
		Region: "us-east-1", Endpoint: "http://localhost:9000", UsePathStyle: true,
		AccessKeyID: "id", SecretAccessKey: "secret",
	})
	if c == nil {
		t.Fatal("nil client")
	}
	opts := c.Options()
	if opts.Region != "us-east-1" || !opts.UsePathStyle || *opts.BaseEndpoint != "http://localhost:9000" {
		t.Errorf("options = region %q path-style %v endpoint %v", opts.Region, opts.UsePathStyle, opts.BaseEndpoint)
	}
	creds, err := opts.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "id" {
		t.Errorf("credentials = %+v, %v", creds, err)
	}
}
