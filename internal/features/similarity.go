package features

import (
	"context"
	"fmt"
	"image"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distance is the Euclidean distance between two embeddings of equal length.
func Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// AdjacentSimilarities returns Distance(emb[i], emb[i+1]) for every adjacent
// pair, so len(emb)-1 values.
func AdjacentSimilarities(emb [][]float64) []float64 {
	if len(emb) < 2 {
		return []float64{}
	}
	sims := make([]float64, len(emb)-1)
	for i := range sims {
		sims[i] = Distance(emb[i], emb[i+1])
	}
	return sims
}

// Baseline is the mean adjacent similarity, 0 for an empty sequence.
func Baseline(sims []float64) float64 {
	if len(sims) == 0 {
		return 0
	}
	return stat.Mean(sims, nil)
}

// PairVisitor is called once per adjacent pair index i in [0, n-2].
type PairVisitor func(i int) error

// WalkPairs makes one pass over the adjacent pairs of an n-element sequence,
// calling every visitor for each index before moving to the next. The first
// visitor error stops the walk.
func WalkPairs(n int, visitors ...PairVisitor) error {
	for i := 0; i < n-1; i++ {
		for _, visit := range visitors {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// SuspectVisitor appends i to out when sims[i] is strictly below baseline.
func SuspectVisitor(sims []float64, baseline float64, out *[]int) PairVisitor {
	return func(i int) error {
		if sims[i] < baseline {
			*out = append(*out, i)
		}
		return nil
	}
}

// MotionVisitor estimates the displacement between frames[i] and frames[i+1]
// and appends its components to horizontal and vertical.
func MotionVisitor(ctx context.Context, frames []image.Image, est MotionEstimator, horizontal, vertical *[]float64) PairVisitor {
	return func(i int) error {
		d, err := est.Estimate(ctx, frames[i], frames[i+1])
		if err != nil {
			return fmt.Errorf("pair %d: %w", i, err)
		}
		*horizontal = append(*horizontal, d.DX)
		*vertical = append(*vertical, d.DY)
		return nil
	}
}

// FlagSuspects returns the pair indices whose similarity is below baseline.
// Ties with the baseline are not suspects.
func FlagSuspects(sims []float64, baseline float64) []int {
	suspects := []int{}
	_ = WalkPairs(len(sims)+1, SuspectVisitor(sims, baseline, &suspects))
	return suspects
}

// Displacements runs est over every adjacent frame pair.
func Displacements(ctx context.Context, frames []image.Image, est MotionEstimator) (horizontal, vertical []float64, err error) {
	horizontal = make([]float64, 0, max(len(frames)-1, 0))
	vertical = make([]float64, 0, max(len(frames)-1, 0))
	if err := WalkPairs(len(frames), MotionVisitor(ctx, frames, est, &horizontal, &vertical)); err != nil {
		return nil, nil, err
	}
	return horizontal, vertical, nil
}

// WindowMatrix builds one row per window size w in [2, windowMax]. Cell j of a
// row is Distance(emb[j], emb[j+w-1]). Every row covers the same span
// j < len(emb)-1-windowMax, so the last 1+windowMax frames never start a
// comparison regardless of w.
//
// TODO: the shared span drops usable comparisons for small w; decide whether a
// ragged or padded layout is acceptable to downstream consumers.
func WindowMatrix(emb [][]float64, windowMax int) [][]float64 {
	if windowMax < 2 {
		return [][]float64{}
	}
	span := max(len(emb)-1-windowMax, 0)

	rows := make([][]float64, 0, windowMax-1)
	for w := 2; w <= windowMax; w++ {
		lag := w - 1
		row := make([]float64, span)
		for j := range row {
			row[j] = Distance(emb[j], emb[j+lag])
		}
		rows = append(rows, row)
	}
	return rows
}
