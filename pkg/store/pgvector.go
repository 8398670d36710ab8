package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/repoqa/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	BatchSize  int
}

// PGVectorStore persists an index in Postgres. Save writes into staging
// tables and swaps them for the live ones inside a single transaction.
type PGVectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewPGVectorStore(ctx context.Context, config VectorStoreConfig) (*PGVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "repoqa_chunks"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 500
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	return &PGVectorStore{config: config, pool: pool}, nil
}

func (s *PGVectorStore) table() string       { return s.config.TableName }
func (s *PGVectorStore) metaTable() string   { return s.config.TableName + "_meta" }
func (s *PGVectorStore) staging() string     { return s.config.TableName + "_staging" }
func (s *PGVectorStore) stagingMeta() string { return s.config.TableName + "_staging_meta" }

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func (s *PGVectorStore) Save(ctx context.Context, idx *Index) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	setup := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s, %s", ident(s.staging()), ident(s.stagingMeta())),
		fmt.Sprintf(`CREATE TABLE %s (
			id INTEGER NOT NULL,
			source_path TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, ident(s.staging()), idx.Dimension),
		fmt.Sprintf(`CREATE TABLE %s (
			metric TEXT NOT NULL,
			model TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			chunks INTEGER NOT NULL
		)`, ident(s.stagingMeta())),
	}
	for _, stmt := range setup {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare staging tables: %w", err)
		}
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (id, source_path, chunk_index, content, embedding) VALUES ($1, $2, $3, $4, $5)",
		ident(s.staging()))

	for start := 0; start < len(idx.Chunks); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(idx.Chunks) {
			end = len(idx.Chunks)
		}

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			chunk := idx.Chunks[i]
			batch.Queue(insert, i, chunk.SourcePath, chunk.ChunkIndex, chunk.Content, pgvector.NewVector(idx.Vectors[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (metric, model, dimension, chunks) VALUES ($1, $2, $3, $4)", ident(s.stagingMeta())),
		string(idx.Metric), idx.Model, idx.Dimension, len(idx.Chunks))
	if err != nil {
		return fmt.Errorf("failed to insert metadata: %w", err)
	}

	swap := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s, %s", ident(s.table()), ident(s.metaTable())),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", ident(s.staging()), ident(s.table())),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", ident(s.stagingMeta()), ident(s.metaTable())),
	}
	for _, stmt := range swap {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to swap index tables: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Load(ctx context.Context) (Searcher, error) {
	var tableExists, metaExists bool
	err := s.pool.QueryRow(ctx,
		"SELECT to_regclass($1) IS NOT NULL, to_regclass($2) IS NOT NULL",
		ident(s.table()), ident(s.metaTable())).Scan(&tableExists, &metaExists)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect tables: %w", err)
	}
	if !tableExists && !metaExists {
		return nil, fmt.Errorf("%w: table %s", ErrNotFound, s.table())
	}
	if !tableExists || !metaExists {
		return nil, fmt.Errorf("%w: table %s is missing its metadata", ErrCorrupt, s.table())
	}

	var (
		metric    string
		model     string
		dimension int
		chunks    int
	)
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT metric, model, dimension, chunks FROM %s LIMIT 1", ident(s.metaTable()))).
		Scan(&metric, &model, &dimension, &chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrCorrupt, err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", ident(s.table()))).Scan(&count); err != nil {
		return nil, fmt.Errorf("%w: count chunks: %v", ErrCorrupt, err)
	}
	if count != chunks || count == 0 {
		return nil, fmt.Errorf("%w: expected %d chunks, found %d", ErrCorrupt, chunks, count)
	}

	m, err := ParseMetric(metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return &pgIndex{
		pool:      s.pool,
		table:     s.table(),
		metric:    m,
		dimension: dimension,
		count:     count,
	}, nil
}

func (s *PGVectorStore) Remove(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s, %s, %s, %s",
		ident(s.table()), ident(s.metaTable()), ident(s.staging()), ident(s.stagingMeta())))
	if err != nil {
		return fmt.Errorf("failed to drop index tables: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGVectorStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// pgIndex searches the live table with an exact scan so results match the
// in-memory index.
type pgIndex struct {
	pool      *pgxpool.Pool
	table     string
	metric    Metric
	dimension int
	count     int
}

func (p *pgIndex) Len() int { return p.count }

func (p *pgIndex) Close() error { return nil }

func (p *pgIndex) Search(ctx context.Context, query []float32, k int) ([]models.SearchResult, error) {
	if len(query) != p.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), p.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	operator := "<=>"
	switch p.metric {
	case Dot:
		operator = "<#>"
	case L2:
		operator = "<->"
	}

	q := fmt.Sprintf(`
		SELECT source_path, chunk_index, content, embedding %s $1 AS distance
		FROM %s
		ORDER BY distance, id
		LIMIT $2`, operator, ident(p.table))

	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			chunk    models.Chunk
			distance float64
		)
		if err := rows.Scan(&chunk.SourcePath, &chunk.ChunkIndex, &chunk.Content, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, models.SearchResult{Chunk: chunk, Score: p.score(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (p *pgIndex) score(distance float64) float32 {
	switch p.metric {
	case Cosine:
		return float32(1 - distance)
	default:
		// <#> is the negated inner product and <-> the euclidean distance.
		return float32(-distance)
	}
}
