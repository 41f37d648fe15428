package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keagan/flickerscope/internal/features"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS videos (
    digest       TEXT PRIMARY KEY,
    path         TEXT NOT NULL,
    run_id       TEXT NOT NULL,
    fps          REAL NOT NULL,
    frames       INTEGER NOT NULL,
    similarities TEXT NOT NULL,
    created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS frames (
    digest    TEXT NOT NULL REFERENCES videos(digest) ON DELETE CASCADE,
    idx       INTEGER NOT NULL,
    embedding BLOB NOT NULL,
    suspect   INTEGER NOT NULL,
    dx        REAL,
    dy        REAL,
    PRIMARY KEY (digest, idx)
);
`

// SQLiteStore keeps results in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection so :memory: databases are shared by every query
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, res *features.Result) error {
	sims, err := encodeMatrix(res.Similarities)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM frames WHERE digest = ?", res.Digest); err != nil {
		return fmt.Errorf("clear frames: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO videos (digest, path, run_id, fps, frames, similarities, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.Digest, res.VideoPath, res.RunID, res.FPS, len(res.Embeddings), sims,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store video: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO frames (digest, idx, embedding, suspect, dx, dy) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range frameRows(res) {
		if _, err := stmt.ExecContext(ctx, res.Digest, r.index, EncodeEmbedding(r.embedding),
			r.suspect, nullable(r.dx), nullable(r.dy)); err != nil {
			return fmt.Errorf("store frame %d: %w", r.index, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, digest string) (*features.Result, error) {
	res := &features.Result{Digest: digest}
	var sims string
	err := s.db.QueryRowContext(ctx,
		"SELECT path, run_id, fps, similarities FROM videos WHERE digest = ?", digest).
		Scan(&res.VideoPath, &res.RunID, &res.FPS, &sims)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if res.Similarities, err = decodeMatrix(sims); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT idx, embedding, suspect, dx, dy FROM frames WHERE digest = ? ORDER BY idx", digest)
	if err != nil {
		return nil, fmt.Errorf("load frames: %w", err)
	}
	defer rows.Close()

	var frames []frameRow
	for rows.Next() {
		var (
			r      frameRow
			blob   []byte
			dx, dy sql.NullFloat64
		)
		if err := rows.Scan(&r.index, &blob, &r.suspect, &dx, &dy); err != nil {
			return nil, err
		}
		if r.embedding, err = DecodeEmbedding(blob); err != nil {
			return nil, err
		}
		if dx.Valid && dy.Valid {
			r.dx, r.dy = &dx.Float64, &dy.Float64
		}
		frames = append(frames, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	applyFrames(res, frames)
	return res, nil
}

// Nearest scans every stored frame; SQLite has no vector index here.
func (s *SQLiteStore) Nearest(ctx context.Context, embedding []float64, k int) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT f.digest, v.path, f.idx, f.embedding FROM frames f JOIN videos v ON v.digest = f.digest")
	if err != nil {
		return nil, fmt.Errorf("scan frames: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var (
			m    Match
			blob []byte
		)
		if err := rows.Scan(&m.Digest, &m.VideoPath, &m.Frame, &blob); err != nil {
			return nil, err
		}
		vec, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(embedding) {
			continue
		}
		m.Distance = features.Distance(vec, embedding)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(matches, k), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
