package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/xhad/repoqa/internal/models"
)

// SQLiteStore persists an index as a single SQLite database file. The file is
// written under a temporary name and renamed once the completion marker is
// committed.
type SQLiteStore struct {
	path string
}

type chunkRow struct {
	ID         int64  `db:"id"`
	SourcePath string `db:"source_path"`
	ChunkIndex int    `db:"chunk_index"`
	Content    string `db:"content"`
	Embedding  []byte `db:"embedding"`
}

type metaRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) tmpPath() string { return s.path + ".tmp" }

func (s *SQLiteStore) Save(ctx context.Context, idx *Index) error {
	tmp := s.tmpPath()
	removeSQLiteFiles(tmp)

	db, err := sqlx.Connect("sqlite3", tmp)
	if err != nil {
		return fmt.Errorf("open sqlite staging file: %w", err)
	}

	if err := writeSQLite(ctx, db, idx); err != nil {
		db.Close()
		removeSQLiteFiles(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		removeSQLiteFiles(tmp)
		return fmt.Errorf("close sqlite staging file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		removeSQLiteFiles(tmp)
		return fmt.Errorf("move index into place: %w", err)
	}
	return nil
}

func writeSQLite(ctx context.Context, db *sqlx.DB, idx *Index) error {
	schema := []string{
		`CREATE TABLE chunks (
			id INTEGER PRIMARY KEY,
			source_path TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO chunks (id, source_path, chunk_index, content, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range idx.Chunks {
		_, err := stmt.ExecContext(ctx, i, chunk.SourcePath, chunk.ChunkIndex, chunk.Content, encodeVector(idx.Vectors[i]))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	meta := []metaRow{
		{"dimension", strconv.Itoa(idx.Dimension)},
		{"metric", string(idx.Metric)},
		{"model", idx.Model},
		{"chunks", strconv.Itoa(len(idx.Chunks))},
		{"complete", "1"},
	}
	for _, row := range meta {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO meta (key, value) VALUES (:key, :value)`, row); err != nil {
			return fmt.Errorf("insert meta %s: %w", row.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Searcher, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrCorrupt, s.path)
	}

	db, err := sqlx.Open("sqlite3", "file:"+s.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrCorrupt, err)
	}
	defer db.Close()

	var metaRows []metaRow
	if err := db.SelectContext(ctx, &metaRows, `SELECT key, value FROM meta`); err != nil {
		return nil, fmt.Errorf("%w: read meta: %v", ErrCorrupt, err)
	}
	meta := make(map[string]string, len(metaRows))
	for _, row := range metaRows {
		meta[row.Key] = row.Value
	}
	if meta["complete"] != "1" {
		return nil, fmt.Errorf("%w: index was not completely written", ErrCorrupt)
	}
	dimension, err := strconv.Atoi(meta["dimension"])
	if err != nil {
		return nil, fmt.Errorf("%w: bad dimension: %v", ErrCorrupt, err)
	}
	count, err := strconv.Atoi(meta["chunks"])
	if err != nil {
		return nil, fmt.Errorf("%w: bad chunk count: %v", ErrCorrupt, err)
	}

	var rows []chunkRow
	err = db.SelectContext(ctx, &rows,
		`SELECT id, source_path, chunk_index, content, embedding FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: read chunks: %v", ErrCorrupt, err)
	}
	if len(rows) != count {
		return nil, fmt.Errorf("%w: expected %d chunks, found %d", ErrCorrupt, count, len(rows))
	}

	chunks := make([]models.Chunk, len(rows))
	vectors := make([][]float32, len(rows))
	for i, row := range rows {
		chunks[i] = models.Chunk{SourcePath: row.SourcePath, ChunkIndex: row.ChunkIndex, Content: row.Content}
		vectors[i], err = decodeVector(row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrCorrupt, row.ID, err)
		}
		if len(vectors[i]) != dimension {
			return nil, fmt.Errorf("%w: chunk %d has dimension %d, want %d", ErrCorrupt, row.ID, len(vectors[i]), dimension)
		}
	}

	idx, err := Build(chunks, vectors, Metric(meta["metric"]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	idx.Model = meta["model"]
	return idx, nil
}

func (s *SQLiteStore) Remove(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	removeSQLiteFiles(s.tmpPath())
	return nil
}

func removeSQLiteFiles(path string) {
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
