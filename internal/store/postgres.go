package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keagan/flickerscope/internal/features"
	"github.com/pgvector/pgvector-go"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS videos (
    digest       TEXT PRIMARY KEY,
    path         TEXT NOT NULL,
    run_id       TEXT NOT NULL,
    fps          DOUBLE PRECISION NOT NULL,
    frames       INTEGER NOT NULL,
    similarities JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS frames (
    digest    TEXT NOT NULL REFERENCES videos(digest) ON DELETE CASCADE,
    idx       INTEGER NOT NULL,
    embedding vector NOT NULL,
    suspect   BOOLEAN NOT NULL,
    dx        DOUBLE PRECISION,
    dy        DOUBLE PRECISION,
    PRIMARY KEY (digest, idx)
);

CREATE INDEX IF NOT EXISTS idx_frames_digest ON frames(digest);
`

// PostgresStore keeps results in PostgreSQL, embeddings in a pgvector column.
// pgvector stores single precision, so loaded embeddings are rounded to float32.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, ensures the vector extension and applies the schema.
func OpenPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, res *features.Result) error {
	sims, err := encodeMatrix(res.Similarities)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM frames WHERE digest = $1", res.Digest); err != nil {
		return fmt.Errorf("clear frames: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO videos (digest, path, run_id, fps, frames, similarities, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		 ON CONFLICT (digest) DO UPDATE SET
		     path = EXCLUDED.path,
		     run_id = EXCLUDED.run_id,
		     fps = EXCLUDED.fps,
		     frames = EXCLUDED.frames,
		     similarities = EXCLUDED.similarities,
		     created_at = EXCLUDED.created_at`,
		res.Digest, res.VideoPath, res.RunID, res.FPS, len(res.Embeddings), sims, time.Now())
	if err != nil {
		return fmt.Errorf("store video: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range frameRows(res) {
		batch.Queue(
			"INSERT INTO frames (digest, idx, embedding, suspect, dx, dy) VALUES ($1, $2, $3, $4, $5, $6)",
			res.Digest, r.index, pgvector.NewVector(toFloat32(r.embedding)), r.suspect, r.dx, r.dy)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store frames: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Load(ctx context.Context, digest string) (*features.Result, error) {
	res := &features.Result{Digest: digest}
	var sims string
	err := s.pool.QueryRow(ctx,
		"SELECT path, run_id, fps, similarities::text FROM videos WHERE digest = $1", digest).
		Scan(&res.VideoPath, &res.RunID, &res.FPS, &sims)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if res.Similarities, err = decodeMatrix(sims); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		"SELECT idx, embedding, suspect, dx, dy FROM frames WHERE digest = $1 ORDER BY idx", digest)
	if err != nil {
		return nil, fmt.Errorf("load frames: %w", err)
	}
	defer rows.Close()

	var frames []frameRow
	for rows.Next() {
		var (
			r   frameRow
			vec pgvector.Vector
		)
		if err := rows.Scan(&r.index, &vec, &r.suspect, &r.dx, &r.dy); err != nil {
			return nil, err
		}
		r.embedding = toFloat64(vec.Slice())
		frames = append(frames, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	applyFrames(res, frames)
	return res, nil
}

// Nearest orders by pgvector's L2 distance operator.
func (s *PostgresStore) Nearest(ctx context.Context, embedding []float64, k int) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT f.digest, v.path, f.idx, f.embedding <-> $1 AS distance
		 FROM frames f JOIN videos v ON v.digest = f.digest
		 WHERE vector_dims(f.embedding) = $2
		 ORDER BY distance, f.digest, f.idx
		 LIMIT $3`,
		pgvector.NewVector(toFloat32(embedding)), len(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("nearest frames: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Digest, &m.VideoPath, &m.Frame, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
