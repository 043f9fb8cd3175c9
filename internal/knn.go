package internal

import (
	"math"
	"sort"
)

// KNNImputer fills null numeric cells from the k nearest rows, measured over
// every numeric column jointly with a NaN-aware Euclidean distance.
type KNNImputer struct {
	Neighbors int
}

type neighbor struct {
	row  int
	dist float64
}

// Impute returns the number of cells it filled. It is a no-op unless the
// table has more rows than Neighbors.
func (k KNNImputer) Impute(t *Table) int {
	if k.Neighbors < 1 || t.Len() <= k.Neighbors {
		return 0
	}

	var numeric []int
	for i, c := range t.columns {
		if c.Kind == ColumnNumber {
			numeric = append(numeric, i)
		}
	}
	if len(numeric) == 0 {
		return 0
	}

	// Distances and donor values come from the input snapshot so that
	// imputed cells never feed later imputations.
	snapshot := t.Clone()
	filled := 0

	for r := range t.rows {
		for _, col := range numeric {
			if !snapshot.rows[r][col].Null {
				continue
			}

			candidates := make([]neighbor, 0, len(t.rows))
			for s := range snapshot.rows {
				if s == r || snapshot.rows[s][col].Null {
					continue
				}
				d, ok := nanEuclidean(snapshot.rows[r], snapshot.rows[s], numeric)
				if !ok {
					continue
				}
				candidates = append(candidates, neighbor{row: s, dist: d})
			}
			if len(candidates) == 0 {
				continue
			}

			sort.SliceStable(candidates, func(i, j int) bool {
				return candidates[i].dist < candidates[j].dist
			})
			n := k.Neighbors
			if n > len(candidates) {
				n = len(candidates)
			}

			sum := 0.0
			for _, c := range candidates[:n] {
				sum += snapshot.rows[c.row][col].Num
			}
			t.rows[r][col] = NumberCell(sum / float64(n))
			filled++
		}
	}
	return filled
}

// nanEuclidean skips coordinates missing on either side and scales the
// result up by total/present coordinates. ok is false when the rows share
// no coordinate.
func nanEuclidean(a, b []Cell, cols []int) (float64, bool) {
	present := 0
	sum := 0.0
	for _, c := range cols {
		if a[c].Null || b[c].Null {
			continue
		}
		diff := a[c].Num - b[c].Num
		sum += diff * diff
		present++
	}
	if present == 0 {
		return 0, false
	}
	return math.Sqrt(float64(len(cols)) / float64(present) * sum), true
}
