package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/indexer"
)

type call struct {
	user, path, caption string
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed map[string]bool
	added   []call
	deleted []call
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{indexed: make(map[string]bool)}
}

func (f *fakeIndex) Add(ctx context.Context, userID, path, caption string) (*indexer.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[userID+"|"+path] = true
	f.added = append(f.added, call{userID, path, caption})
	return &indexer.Collection{}, nil
}

func (f *fakeIndex) Delete(ctx context.Context, userID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, call{user: userID, path: path})
	if !f.indexed[userID+"|"+path] {
		return indexer.ErrNotFound
	}
	delete(f.indexed, userID+"|"+path)
	return nil
}

func (f *fakeIndex) Contains(ctx context.Context, userID, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indexed[userID+"|"+path], nil
}

func (f *fakeIndex) snapshot() (added, deleted []call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.added...), append([]call(nil), f.deleted...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWatcher(t *testing.T, root string, idx PhotoIndex) *Watcher {
	t.Helper()
	w := New(root, []string{".jpg", ".png"}, idx, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_IndexesNewPhotoWithSidecarCaption(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "alice"), 0755); err != nil {
		t.Fatal(err)
	}
	idx := newFakeIndex()
	startWatcher(t, root, idx)

	writeFile(t, filepath.Join(root, "alice", "boat.txt"), "  A boat at sea\n")
	photo := filepath.Join(root, "alice", "boat.jpg")
	writeFile(t, photo, "jpeg")

	waitFor(t, "add", func() bool {
		added, _ := idx.snapshot()
		return len(added) > 0
	})
	added, _ := idx.snapshot()
	if len(added) != 1 {
		t.Fatalf("added = %+v, want one call (debounced)", added)
	}
	if added[0] != (call{"alice", photo, "A boat at sea"}) {
		t.Errorf("added[0] = %+v", added[0])
	}
}

func TestWatcher_RemovesDeletedPhoto(t *testing.T) {
	root := t.TempDir()
	photo := filepath.Join(root, "bob", "sun.png")
	writeFile(t, photo, "png")
	idx := newFakeIndex()
	idx.indexed["bob|"+photo] = true
	startWatcher(t, root, idx)

	if err := os.Remove(photo); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delete", func() bool {
		_, deleted := idx.snapshot()
		return len(deleted) > 0
	})
	if ok, _ := idx.Contains(context.Background(), "bob", photo); ok {
		t.Error("photo still indexed after removal")
	}
}

func TestWatcher_NewUserDirectory(t *testing.T) {
	root := t.TempDir()
	idx := newFakeIndex()
	startWatcher(t, root, idx)

	staging := filepath.Join(t.TempDir(), "carol")
	writeFile(t, filepath.Join(staging, "trip", "a.jpg"), "a")
	writeFile(t, filepath.Join(staging, "notes.md"), "skip")
	if err := os.Rename(staging, filepath.Join(root, "carol")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "add from moved-in directory", func() bool {
		added, _ := idx.snapshot()
		return len(added) > 0
	})
	added, _ := idx.snapshot()
	if len(added) != 1 || added[0].user != "carol" || filepath.Base(added[0].path) != "a.jpg" {
		t.Errorf("added = %+v", added)
	}
}

func TestWatcher_SkipsAlreadyIndexed(t *testing.T) {
	root := t.TempDir()
	photo := filepath.Join(root, "alice", "x.jpg")
	writeFile(t, photo, "x")
	other := filepath.Join(root, "alice", "y.jpg")
	writeFile(t, other, "y")
	writeFile(t, filepath.Join(root, "stray.jpg"), "no user")
	writeFile(t, filepath.Join(root, "bad.user", "z.jpg"), "invalid user id")
	writeFile(t, filepath.Join(root, "alice", ".cache", "w.jpg"), "hidden")

	idx := newFakeIndex()
	idx.indexed["alice|"+photo] = true
	w := startWatcher(t, root, idx)

	if n := w.SyncExisting(); n != 2 {
		t.Errorf("SyncExisting() = %d, want 2", n)
	}
	added, _ := idx.snapshot()
	if len(added) != 1 || added[0].path != other {
		t.Errorf("added = %+v, want only %s", added, other)
	}
}

func TestWatcher_StartCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads", "users")
	w := startWatcher(t, root, newFakeIndex())
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root should exist after Start: %v", err)
	}
	if w.Root() != root {
		t.Errorf("Root() = %q", w.Root())
	}
}

func TestWatcher_StoppedIgnoresEvents(t *testing.T) {
	root := t.TempDir()
	idx := newFakeIndex()
	w := startWatcher(t, root, idx)
	w.Stop()
	w.Stop()

	writeFile(t, filepath.Join(root, "alice", "late.jpg"), "x")
	if n := w.SyncExisting(); n != 1 {
		t.Errorf("SyncExisting() = %d", n)
	}
	time.Sleep(150 * time.Millisecond)
	if added, _ := idx.snapshot(); len(added) != 0 {
		t.Errorf("stopped watcher indexed %+v", added)
	}
}

func TestPhotoOwner(t *testing.T) {
	w := New("/up", []string{".jpg"}, nil)
	tests := []struct {
		path string
		user string
		ok   bool
	}{
		{"/up/alice/a.jpg", "alice", true},
		{"/up/alice/2024/a.JPG", "alice", true},
		{"/up/alice/a.txt", "", false},
		{"/up/alice/a.gif", "", false},
		{"/up/a.jpg", "", false},
		{"/up/.trash/a.jpg", "", false},
		{"/up/alice/.a.jpg", "", false},
		{"/elsewhere/alice/a.jpg", "", false},
		{"/up/bad user/a.jpg", "", false},
	}
	for _, tt := range tests {
		user, ok := w.photoOwner(tt.path)
		if user != tt.user || ok != tt.ok {
			t.Errorf("photoOwner(%q) = %q, %v; want %q, %v", tt.path, user, ok, tt.user, tt.ok)
		}
	}
}

func TestReadCaption(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "p.v2.jpg")
	if got := readCaption(photo); got != "" {
		t.Errorf("no sidecar: got %q", got)
	}
	writeFile(t, filepath.Join(dir, "p.v2.txt"), "\tdog on a sofa \n")
	if got := readCaption(photo); got != "dog on a sofa" {
		t.Errorf("readCaption = %q", got)
	}
}
