package features

import (
	"time"
)

// CacheEntry is the persisted outcome of one extraction. Displacement
// sequences are index-aligned with adjacent frame pairs and have length
// len(Embeddings)-1.
type CacheEntry struct {
	Embeddings              [][]float64
	Suspects                []int
	HorizontalDisplacements []float64
	VerticalDisplacements   []float64
}

// Frames is the number of frames the entry was computed from.
func (c *CacheEntry) Frames() int {
	return len(c.Embeddings)
}

// Extraction is what Extract returns for a single video.
type Extraction struct {
	Entry    *CacheEntry
	Digest   string
	CacheHit bool
}

// Result is the full feature set for a video. Callers must treat it as
// read-only.
type Result struct {
	RunID                   string        `json:"run_id"`
	VideoPath               string        `json:"video_path"`
	Digest                  string        `json:"digest"`
	FPS                     float64       `json:"fps"`
	Embeddings              [][]float64   `json:"embeddings"`
	Similarities            [][]float64   `json:"similarities"`
	Suspects                []int         `json:"suspects"`
	HorizontalDisplacements []float64     `json:"horizontal_displacements"`
	VerticalDisplacements   []float64     `json:"vertical_displacements"`
	CacheHit                bool          `json:"cache_hit"`
	Elapsed                 time.Duration `json:"elapsed_ns"`
}

// WindowSize returns the window size of similarity matrix row.
func WindowSize(row int) int {
	return row + 2
}
