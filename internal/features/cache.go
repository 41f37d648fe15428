package features

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/keagan/flickerscope/internal/metrics"
	"github.com/keagan/flickerscope/pkg/util"
	"github.com/rs/zerolog"
	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// Array names inside a cache archive.
const (
	keyEmbeddings              = "embeddings"
	keySuspects                = "suspects"
	keyHorizontalDisplacements = "horizontal_displacements"
	keyVerticalDisplacements   = "vertical_displacements"
)

// Cache stores one .npz archive per content digest under dir. It does no
// locking; one writer per digest at a time.
type Cache struct {
	logger  zerolog.Logger
	dir     string
	enabled bool
}

// NewCache returns a cache rooted at dir. A disabled cache never reads or
// writes anything.
func NewCache(logger zerolog.Logger, dir string, enabled bool) *Cache {
	return &Cache{
		logger:  logger.With().Str("component", "cache").Logger(),
		dir:     dir,
		enabled: enabled,
	}
}

// Enabled reports whether lookups and stores touch the disk.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Path returns the archive location for digest.
func (c *Cache) Path(digest string) string {
	return filepath.Join(c.dir, digest+".npz")
}

// Lookup returns the entry for digest. Missing, unreadable and inconsistent
// archives are all misses.
func (c *Cache) Lookup(digest string) (*CacheEntry, bool) {
	if !c.enabled {
		return nil, false
	}
	path := c.Path(digest)
	if !util.FileExists(path) {
		metrics.CacheLookupsTotal.WithLabelValues(metrics.ResultMiss).Inc()
		return nil, false
	}

	entry, err := readEntry(path)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("unreadable cache entry, recomputing")
		metrics.CacheLookupsTotal.WithLabelValues(metrics.ResultMiss).Inc()
		return nil, false
	}

	metrics.CacheLookupsTotal.WithLabelValues(metrics.ResultHit).Inc()
	c.logger.Info().Str("path", path).Int("frames", entry.Frames()).Msg("cache exists, using cache")
	return entry, true
}

// Store writes entry for digest, replacing any previous archive. The archive
// is written to a temporary file and renamed into place.
func (c *Cache) Store(digest string, entry *CacheEntry) error {
	if !c.enabled {
		return nil
	}
	if err := util.EnsureDir(c.dir); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := util.TempFile(c.dir, digest+"-", ".npz.tmp")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeEntry(tmp, entry); err != nil {
		tmp.Close()
		util.CleanupFiles(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		util.CleanupFiles(tmpPath)
		return fmt.Errorf("close temp archive: %w", err)
	}

	path := c.Path(digest)
	if err := os.Rename(tmpPath, path); err != nil {
		util.CleanupFiles(tmpPath)
		return fmt.Errorf("rename archive: %w", err)
	}

	c.logger.Debug().
		Str("path", path).
		Int64("bytes", util.FileSize(path)).
		Msg("cache saved")
	return nil
}

func writeEntry(f *os.File, entry *CacheEntry) error {
	emb, err := toDense(entry.Embeddings)
	if err != nil {
		return err
	}
	suspects := make([]int64, len(entry.Suspects))
	for i, s := range entry.Suspects {
		suspects[i] = int64(s)
	}

	w := npz.NewWriter(f)
	arrays := []struct {
		name string
		v    any
	}{
		{keyEmbeddings, emb},
		{keySuspects, suspects},
		{keyHorizontalDisplacements, nonNil(entry.HorizontalDisplacements)},
		{keyVerticalDisplacements, nonNil(entry.VerticalDisplacements)},
	}
	for _, a := range arrays {
		if err := w.Write(a.name, a.v); err != nil {
			w.Close()
			return fmt.Errorf("write %s: %w", a.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func readEntry(path string) (*CacheEntry, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var emb mat.Dense
	if err := r.Read(keyEmbeddings, &emb); err != nil {
		return nil, fmt.Errorf("read %s: %w", keyEmbeddings, err)
	}
	var suspects []int64
	if err := r.Read(keySuspects, &suspects); err != nil {
		return nil, fmt.Errorf("read %s: %w", keySuspects, err)
	}
	var horizontal, vertical []float64
	if err := r.Read(keyHorizontalDisplacements, &horizontal); err != nil {
		return nil, fmt.Errorf("read %s: %w", keyHorizontalDisplacements, err)
	}
	if err := r.Read(keyVerticalDisplacements, &vertical); err != nil {
		return nil, fmt.Errorf("read %s: %w", keyVerticalDisplacements, err)
	}

	entry := &CacheEntry{
		Embeddings:              fromDense(&emb),
		Suspects:                make([]int, len(suspects)),
		HorizontalDisplacements: nonNil(horizontal),
		VerticalDisplacements:   nonNil(vertical),
	}
	for i, s := range suspects {
		entry.Suspects[i] = int(s)
	}
	if err := entry.validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// validate checks the length invariants between the arrays of an entry.
func (c *CacheEntry) validate() error {
	n := len(c.Embeddings)
	if n == 0 {
		return fmt.Errorf("entry has no embeddings")
	}
	if len(c.HorizontalDisplacements) != n-1 || len(c.VerticalDisplacements) != n-1 {
		return fmt.Errorf("displacements have %d/%d values for %d frames",
			len(c.HorizontalDisplacements), len(c.VerticalDisplacements), n)
	}
	for _, s := range c.Suspects {
		if s < 0 || s > n-2 {
			return fmt.Errorf("suspect index %d out of range for %d frames", s, n)
		}
	}
	return nil
}

func toDense(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("cannot store empty embeddings")
	}
	dim := len(rows[0])
	data := make([]float64, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(r), dim)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), dim, data), nil
}

func fromDense(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = append([]float64(nil), m.RawRowView(i)...)
	}
	return rows
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
