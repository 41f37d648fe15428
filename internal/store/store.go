package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/keagan/flickerscope/internal/features"
)

// Store persists extraction results for downstream consumers.
type Store interface {
	// Save replaces everything stored for res.Digest.
	Save(ctx context.Context, res *features.Result) error
	// Load returns the stored result for digest, or ErrNotFound.
	Load(ctx context.Context, digest string) (*features.Result, error)
	// Nearest returns the k stored frames closest to embedding.
	Nearest(ctx context.Context, embedding []float64, k int) ([]Match, error)
	Close() error
}

// Match is one frame returned by Nearest.
type Match struct {
	Digest    string
	VideoPath string
	Frame     int
	Distance  float64
}

// ErrNotFound is returned by Load for an unknown digest.
var ErrNotFound = errors.New("result not found")

// Open picks the backend from the DSN: postgres:// and postgresql:// URLs use
// PostgreSQL with pgvector, anything else is a SQLite database path with an
// optional sqlite:// prefix.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("empty store dsn")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
}

// frameRow is one frame of a result as stored.
type frameRow struct {
	index     int
	embedding []float64
	suspect   bool
	// motion to the next frame; absent for the last frame
	dx, dy *float64
}

func frameRows(res *features.Result) []frameRow {
	suspects := make(map[int]bool, len(res.Suspects))
	for _, s := range res.Suspects {
		suspects[s] = true
	}
	rows := make([]frameRow, len(res.Embeddings))
	for i := range rows {
		rows[i] = frameRow{index: i, embedding: res.Embeddings[i], suspect: suspects[i]}
		if i < len(res.HorizontalDisplacements) {
			rows[i].dx = &res.HorizontalDisplacements[i]
			rows[i].dy = &res.VerticalDisplacements[i]
		}
	}
	return rows
}

// applyFrames rebuilds the per-frame fields of res from rows ordered by index.
func applyFrames(res *features.Result, rows []frameRow) {
	res.Embeddings = make([][]float64, len(rows))
	res.Suspects = []int{}
	res.HorizontalDisplacements = make([]float64, 0, max(len(rows)-1, 0))
	res.VerticalDisplacements = make([]float64, 0, max(len(rows)-1, 0))
	for i, r := range rows {
		res.Embeddings[i] = r.embedding
		if r.suspect {
			res.Suspects = append(res.Suspects, r.index)
		}
		if r.dx != nil && r.dy != nil {
			res.HorizontalDisplacements = append(res.HorizontalDisplacements, *r.dx)
			res.VerticalDisplacements = append(res.VerticalDisplacements, *r.dy)
		}
	}
}

func encodeMatrix(m [][]float64) (string, error) {
	if m == nil {
		m = [][]float64{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeMatrix(s string) ([][]float64, error) {
	var m [][]float64
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode similarities: %w", err)
	}
	return m, nil
}

// topK keeps the k smallest distances.
func topK(matches []Match, k int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		if matches[i].Digest != matches[j].Digest {
			return matches[i].Digest < matches[j].Digest
		}
		return matches[i].Frame < matches[j].Frame
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
