package pipeline

import (
	"errors"
	"time"

	"github.com/keagan/flickerscope/internal/features"
)

// ErrStoreSave marks a result that was extracted but not persisted.
var ErrStoreSave = errors.New("store result")

// StageStore is the Failure stage of videos whose result could not be stored.
const StageStore = "store"

// AnalyzeOptions configures a single analysis
type AnalyzeOptions struct {
	// Persist the result to the configured feature store.
	Store bool
}

// BatchOptions configures batch analysis
type BatchOptions struct {
	AnalyzeOptions
	// OnVideo is called after each video, successful or not.
	OnVideo func(path string, res *features.Result, err error)
}

// Failure records why one video of a batch produced no result.
type Failure struct {
	Path  string `json:"path"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// BatchReport summarises a batch run.
type BatchReport struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []Failure     `json:"failed"`
	CacheHits int           `json:"cache_hits"`
	Suspects  int           `json:"suspects"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}
