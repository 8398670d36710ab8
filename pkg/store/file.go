package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xhad/repoqa/internal/models"
)

const (
	indexFile    = "index.gob"
	manifestFile = "manifest.json"
	formatV1     = 1
)

// snapshot is the gob payload written by FileStore.
type snapshot struct {
	Chunks    []models.Chunk
	Vectors   [][]float32
	Dimension int
	Metric    Metric
	Model     string
}

type manifest struct {
	Format    int       `json:"format"`
	Chunks    int       `json:"chunks"`
	Dimension int       `json:"dimension"`
	Metric    Metric    `json:"metric"`
	Model     string    `json:"model,omitempty"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// FileStore persists an index as a directory holding a gob payload and a
// manifest. The directory is assembled next to its final location and renamed
// into place, so Load never sees a half-written index.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(_ context.Context, idx *Index) error {
	var payload bytes.Buffer
	err := gob.NewEncoder(&payload).Encode(snapshot{
		Chunks:    idx.Chunks,
		Vectors:   idx.Vectors,
		Dimension: idx.Dimension,
		Metric:    idx.Metric,
		Model:     idx.Model,
	})
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	sum := sha256.Sum256(payload.Bytes())
	m := manifest{
		Format:    formatV1,
		Chunks:    len(idx.Chunks),
		Dimension: idx.Dimension,
		Metric:    idx.Metric,
		Model:     idx.Model,
		SHA256:    hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}
	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	parent := filepath.Dir(filepath.Clean(s.path))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(s.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := writeFileSync(filepath.Join(tmp, indexFile), payload.Bytes()); err != nil {
		return err
	}
	// The manifest goes last: a directory without one is never loadable.
	if err := writeFileSync(filepath.Join(tmp, manifestFile), manifestData); err != nil {
		return err
	}

	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("remove previous index: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("move index into place: %w", err)
	}

	return nil
}

func (s *FileStore) Load(_ context.Context) (Searcher, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCorrupt, s.path)
	}

	manifestData, err := os.ReadFile(filepath.Join(s.path, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrCorrupt, err)
	}
	var m manifest
	if err := json.Unmarshal(manifestData, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrCorrupt, err)
	}
	if m.Format != formatV1 {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrCorrupt, m.Format)
	}

	payload, err := os.ReadFile(filepath.Join(s.path, indexFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %v", ErrCorrupt, err)
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != m.SHA256 {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode index: %v", ErrCorrupt, err)
	}
	if len(snap.Chunks) != m.Chunks || snap.Dimension != m.Dimension || snap.Metric != m.Metric {
		return nil, fmt.Errorf("%w: manifest does not match payload", ErrCorrupt)
	}

	idx, err := Build(snap.Chunks, snap.Vectors, snap.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	idx.Model = snap.Model
	return idx, nil
}

// Remove deletes the index and any staging directories left by a crashed Save.
func (s *FileStore) Remove(_ context.Context) error {
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}

	stale, _ := filepath.Glob(filepath.Join(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp-*"))
	for _, dir := range stale {
		_ = os.RemoveAll(dir)
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
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
