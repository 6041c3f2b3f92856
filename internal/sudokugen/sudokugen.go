// Package sudokugen generates random, fully-solved Sudoku grids and
// punches holes in them, for use as test fixtures. It is out of the core
// P2P scope (§1) but is supplied because the original test suite exercises
// a generate-then-solve round trip.
package sudokugen

import (
	"errors"
	"math/rand/v2"

	"github.com/RGarrido03/CD-Project/internal/grid"
)

const maxGenerateAttempts = 10000

// ErrGenerationFailed is returned when no attempt produced a fully
// completed grid within maxGenerateAttempts tries. A single attempt
// aborts whenever update_square's per-cell retry cap is hit at a dead
// end, which happens in most attempts; with maxGenerateAttempts tries,
// running out altogether is exceptionally rare.
var ErrGenerationFailed = errors.New("sudokugen: failed to generate a complete grid")

// GenerateSolved fills all nine sub-squares in order, retrying the whole
// grid from scratch if any sub-square's randomized filler exhausts its
// attempts, using exactly the same update_square the node uses.
func GenerateSolved() (grid.Grid, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		if g, ok := tryGenerate(); ok {
			return g, nil
		}
	}
	return grid.Grid{}, ErrGenerationFailed
}

func tryGenerate() (grid.Grid, bool) {
	var g grid.Grid
	for sq := 0; sq < 9; sq++ {
		for {
			updated, done, err := grid.UpdateSquare(sq, g)
			if err != nil {
				return grid.Grid{}, false
			}
			g = updated
			if done {
				break
			}
		}
	}
	return g, true
}

// Punch removes holes distinct cells from g, leaving them as zeros. It
// panics if holes exceeds 81, since that is a caller programming error,
// not a runtime condition.
func Punch(g grid.Grid, holes int) grid.Grid {
	if holes > 81 {
		panic("sudokugen: holes exceeds grid size")
	}

	out := g
	removed := make(map[[2]int]bool, holes)
	for len(removed) < holes {
		cell := [2]int{rand.IntN(9), rand.IntN(9)}
		if removed[cell] {
			continue
		}
		removed[cell] = true
		out[cell[0]][cell[1]] = 0
	}
	return out
}
