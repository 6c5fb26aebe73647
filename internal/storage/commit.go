package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func stagingPrefix(userID string) string { return "." + userID + ".staging-" }
func oldPrefix(userID string) string     { return "." + userID + ".old-" }

// commit writes files into a fresh staging directory and swaps it in for the user directory.
// The previous directory is renamed aside first and removed only after the swap, so a crash
// leaves either the live directory or a recoverable ".old" copy.
func (s *ArtifactStore) commit(userID string, files map[string][]byte) error {
	if err := s.recoverUser(userID); err != nil {
		return err
	}
	staging := filepath.Join(s.root, stagingPrefix(userID)+uuid.NewString())
	if err := os.Mkdir(staging, 0755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	for _, name := range ArtifactNames {
		data, ok := files[name]
		if !ok {
			os.RemoveAll(staging)
			return fmt.Errorf("missing artifact %s", name)
		}
		if err := writeFileSync(filepath.Join(staging, name), data); err != nil {
			os.RemoveAll(staging)
			return err
		}
	}
	if err := s.syncDir(staging); err != nil {
		os.RemoveAll(staging)
		return err
	}

	live := s.UserDir(userID)
	old := ""
	if _, err := os.Stat(live); err == nil {
		old = filepath.Join(s.root, oldPrefix(userID)+uuid.NewString())
		if err := os.Rename(live, old); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("move previous artifacts aside: %w", err)
		}
	} else if !os.IsNotExist(err) {
		os.RemoveAll(staging)
		return fmt.Errorf("stat user directory: %w", err)
	}

	if err := os.Rename(staging, live); err != nil {
		if old != "" {
			_ = os.Rename(old, live)
		}
		os.RemoveAll(staging)
		return fmt.Errorf("commit artifacts: %w", err)
	}
	// The rename is the commit point. A failed directory sync after it must not report
	// failure, or callers would roll back memory while the new set is live on disk.
	if err := s.syncDir(s.root); err != nil {
		s.logger.Warn("artifacts committed but data directory sync failed",
			zap.String("user", userID), zap.Error(err))
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

// recoverUser restores an orphaned ".old" directory when the live one is missing and
// removes leftovers of interrupted commits.
func (s *ArtifactStore) recoverUser(userID string) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("list data directory: %w", err)
	}
	var olds, stagings []string
	for _, e := range entries {
		switch name := e.Name(); {
		case strings.HasPrefix(name, oldPrefix(userID)):
			olds = append(olds, filepath.Join(s.root, name))
		case strings.HasPrefix(name, stagingPrefix(userID)):
			stagings = append(stagings, filepath.Join(s.root, name))
		}
	}
	if len(olds) == 0 && len(stagings) == 0 {
		return nil
	}

	live := s.UserDir(userID)
	if _, err := os.Stat(live); os.IsNotExist(err) && len(olds) > 0 {
		newestOld := newest(olds)
		if err := os.Rename(newestOld, live); err != nil {
			return fmt.Errorf("restore previous artifacts: %w", err)
		}
		olds = remove(olds, newestOld)
	}
	for _, dir := range append(olds, stagings...) {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove stale directory: %w", err)
		}
	}
	return nil
}

func newest(dirs []string) string {
	type aged struct {
		path string
		mod  int64
	}
	items := make([]aged, 0, len(dirs))
	for _, d := range dirs {
		var mod int64
		if info, err := os.Stat(d); err == nil {
			mod = info.ModTime().UnixNano()
		}
		items = append(items, aged{d, mod})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].mod > items[j].mod })
	return items[0].path
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
