// Package storage persists per-user index artifacts and the catalog of indexed users.
//
// Each user owns one directory under the store root holding four artifacts that are
// always written together: the vector matrix, the path list, the caption file and the
// serialized ANN index. A set is committed by renaming a fully written staging directory
// into place, so readers see either the previous set or the new one.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Artifact file names inside a user directory.
const (
	EmbeddingsFile = "embeddings.msgpack"
	PathsFile      = "image_paths.txt"
	CaptionsFile   = "annotations.txt"
	IndexFile      = "index.ann"
)

// ArtifactNames lists every artifact of a set.
var ArtifactNames = []string{EmbeddingsFile, PathsFile, CaptionsFile, IndexFile}

// ErrCorruptState is returned when artifacts exist but disagree with each other or do not decode.
var ErrCorruptState = errors.New("storage: corrupt artifact set")

// Artifacts is the in-memory form of one user's artifact set.
type Artifacts struct {
	Dim       int
	Vectors   [][]float32
	Paths     []string
	Captions  map[string]string
	IndexBlob []byte
}

// Presence reports which artifacts exist for a user.
type Presence struct {
	Embeddings bool
	Paths      bool
	Captions   bool
	Index      bool
}

// All reports whether the full set exists.
func (p Presence) All() bool {
	return p.Embeddings && p.Paths && p.Captions && p.Index
}

// None reports whether no artifact exists.
func (p Presence) None() bool {
	return !p.Embeddings && !p.Paths && !p.Captions && !p.Index
}

// Partial is what could be salvaged from an incomplete or inconsistent set.
// A nil slice or map means that artifact was missing or did not decode.
type Partial struct {
	Dim      int
	Vectors  [][]float32
	Paths    []string
	Captions map[string]string
}

// StoreOption configures an ArtifactStore.
type StoreOption func(*ArtifactStore)

// WithCaptionPolicy sets how caption variants are chosen when reading caption files.
func WithCaptionPolicy(p CaptionPolicy) StoreOption {
	return func(s *ArtifactStore) {
		s.captions = p
	}
}

// WithLogger sets the logger used for commit warnings.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *ArtifactStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// ArtifactStore reads and writes artifact sets under a root directory.
// Callers serialize access per user.
type ArtifactStore struct {
	root     string
	captions CaptionPolicy
	logger   *zap.Logger
	syncDir  func(dir string) error
}

// NewArtifactStore creates root if needed and returns a store over it.
func NewArtifactStore(root string, opts ...StoreOption) (*ArtifactStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s := &ArtifactStore{root: root, captions: DefaultCaptionPolicy(), logger: zap.NewNop(), syncDir: syncDir}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the store root directory.
func (s *ArtifactStore) Root() string {
	return s.root
}

// CaptionPolicy returns the policy applied when caption files are read.
func (s *ArtifactStore) CaptionPolicy() CaptionPolicy {
	return s.captions
}

// UserDir returns the directory holding userID's artifacts.
func (s *ArtifactStore) UserDir(userID string) string {
	return filepath.Join(s.root, userID)
}

// Users lists user ids that have an artifact directory.
func (s *ArtifactStore) Users() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}
	var users []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			users = append(users, e.Name())
		}
	}
	sort.Strings(users)
	return users, nil
}

// Presence finishes any interrupted commit for userID and reports which artifacts exist.
func (s *ArtifactStore) Presence(userID string) (Presence, error) {
	if err := s.recoverUser(userID); err != nil {
		return Presence{}, err
	}
	dir := s.UserDir(userID)
	var p Presence
	var err error
	if p.Embeddings, err = fileExists(filepath.Join(dir, EmbeddingsFile)); err != nil {
		return Presence{}, err
	}
	if p.Paths, err = fileExists(filepath.Join(dir, PathsFile)); err != nil {
		return Presence{}, err
	}
	if p.Captions, err = fileExists(filepath.Join(dir, CaptionsFile)); err != nil {
		return Presence{}, err
	}
	if p.Index, err = fileExists(filepath.Join(dir, IndexFile)); err != nil {
		return Presence{}, err
	}
	return p, nil
}

// ExistsAll reports whether all four artifacts exist for userID.
func (s *ArtifactStore) ExistsAll(userID string) (bool, error) {
	p, err := s.Presence(userID)
	if err != nil {
		return false, err
	}
	return p.All(), nil
}

// Load reads the full set. It fails with ErrCorruptState when an artifact does not decode
// or the vector and path counts disagree, and with a plain I/O error when a file cannot be read.
func (s *ArtifactStore) Load(userID string) (*Artifacts, error) {
	if err := s.recoverUser(userID); err != nil {
		return nil, err
	}
	dir := s.UserDir(userID)
	files := make(map[string][]byte, len(ArtifactNames))
	for _, name := range ArtifactNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: missing %s", ErrCorruptState, name)
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		files[name] = data
	}
	return s.decode(files)
}

func (s *ArtifactStore) decode(files map[string][]byte) (*Artifacts, error) {
	dim, vectors, err := DecodeMatrix(files[EmbeddingsFile])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, EmbeddingsFile, err)
	}
	paths, err := DecodePaths(files[PathsFile])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, PathsFile, err)
	}
	if len(vectors) != len(paths) {
		return nil, fmt.Errorf("%w: %d vectors but %d paths", ErrCorruptState, len(vectors), len(paths))
	}
	captions, err := ParseCaptionsFor(bytes.NewReader(files[CaptionsFile]), s.captions, paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, CaptionsFile, err)
	}
	if len(files[IndexFile]) == 0 {
		return nil, fmt.Errorf("%w: empty %s", ErrCorruptState, IndexFile)
	}
	return &Artifacts{
		Dim:       dim,
		Vectors:   vectors,
		Paths:     paths,
		Captions:  captions,
		IndexBlob: files[IndexFile],
	}, nil
}

// LoadPartial decodes whatever artifacts are readable, for recovery. It never fails on
// missing or undecodable files; those come back nil.
func (s *ArtifactStore) LoadPartial(userID string) *Partial {
	dir := s.UserDir(userID)
	p := &Partial{}
	if data, err := os.ReadFile(filepath.Join(dir, EmbeddingsFile)); err == nil {
		if dim, vectors, err := DecodeMatrix(data); err == nil {
			p.Dim = dim
			p.Vectors = vectors
			if p.Vectors == nil {
				p.Vectors = [][]float32{}
			}
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, PathsFile)); err == nil {
		if paths, err := DecodePaths(data); err == nil {
			p.Paths = paths
			if p.Paths == nil {
				p.Paths = []string{}
			}
		}
	}
	if f, err := os.Open(filepath.Join(dir, CaptionsFile)); err == nil {
		if captions, err := ParseCaptionsFor(f, s.captions, p.Paths); err == nil {
			p.Captions = captions
		}
		f.Close()
	}
	return p
}

// Save encodes a and commits it as userID's artifact set.
func (s *ArtifactStore) Save(userID string, a *Artifacts) error {
	files, err := s.encode(a)
	if err != nil {
		return err
	}
	return s.commit(userID, files)
}

func (s *ArtifactStore) encode(a *Artifacts) (map[string][]byte, error) {
	if len(a.Vectors) != len(a.Paths) {
		return nil, fmt.Errorf("refusing to save %d vectors with %d paths", len(a.Vectors), len(a.Paths))
	}
	if len(a.IndexBlob) == 0 {
		return nil, fmt.Errorf("refusing to save an empty index blob")
	}
	matrix, err := EncodeMatrix(a.Dim, a.Vectors)
	if err != nil {
		return nil, err
	}
	paths, err := EncodePaths(a.Paths)
	if err != nil {
		return nil, err
	}
	var captions bytes.Buffer
	if err := WriteCaptions(&captions, a.Paths, a.Captions); err != nil {
		return nil, err
	}
	return map[string][]byte{
		EmbeddingsFile: matrix,
		PathsFile:      paths,
		CaptionsFile:   captions.Bytes(),
		IndexFile:      a.IndexBlob,
	}, nil
}

// ReadArtifact returns the raw bytes of one committed artifact.
func (s *ArtifactStore) ReadArtifact(userID, name string) ([]byte, error) {
	if !isArtifactName(name) {
		return nil, fmt.Errorf("unknown artifact %q", name)
	}
	if err := s.recoverUser(userID); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.UserDir(userID), name))
}

// ReadSet returns the raw bytes of every committed artifact of userID after checking they
// decode as one consistent set. A set read while a commit swaps directories fails with
// ErrCorruptState; callers may retry.
func (s *ArtifactStore) ReadSet(userID string) (map[string][]byte, error) {
	files := make(map[string][]byte, len(ArtifactNames))
	for _, name := range ArtifactNames {
		data, err := s.ReadArtifact(userID, name)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: missing %s", ErrCorruptState, name)
			}
			return nil, err
		}
		files[name] = data
	}
	if _, err := s.decode(files); err != nil {
		return nil, err
	}
	return files, nil
}

// Restore validates externally supplied artifact bytes and commits them as userID's set.
func (s *ArtifactStore) Restore(userID string, files map[string][]byte) error {
	for _, name := range ArtifactNames {
		if _, ok := files[name]; !ok {
			return fmt.Errorf("%w: missing %s", ErrCorruptState, name)
		}
	}
	for name := range files {
		if !isArtifactName(name) {
			return fmt.Errorf("unknown artifact %q", name)
		}
	}
	if _, err := s.decode(files); err != nil {
		return err
	}
	return s.commit(userID, files)
}

func isArtifactName(name string) bool {
	for _, n := range ArtifactNames {
		if n == name {
			return true
		}
	}
	return false
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
