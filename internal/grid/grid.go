// Package grid implements pure, stateless operations over a 9x9 sudoku
// board: sub-square extraction/replacement, the randomized single-cell
// filler used by workers, and final-grid validation.
package grid

import (
	"fmt"
	"math/rand/v2"
)

// Grid is a 9x9 board. A zero cell is unknown.
type Grid [9][9]int

// Size is the number of cells along one side of the board.
const Size = 9

// SubSquareSize is the side length of a sub-square.
const SubSquareSize = 3

// Clone returns a deep copy. Grid is already a value type (an array of
// arrays), so this is just an assignment, but the named helper documents
// the intent at every call site that needs an independent snapshot.
func (g Grid) Clone() Grid {
	return g
}

// SubSquareOrigin returns the top-left (row, col) of sub-square s (0..8,
// row-major).
func SubSquareOrigin(s int) (row, col int) {
	return 3 * (s / 3), 3 * (s % 3)
}

// ExtractSubSquare returns the 3x3 block identified by s as a standalone
// snapshot.
func ExtractSubSquare(s int, g Grid) [3][3]int {
	row0, col0 := SubSquareOrigin(s)

	var out [3][3]int
	for r := 0; r < SubSquareSize; r++ {
		for c := 0; c < SubSquareSize; c++ {
			out[r][c] = g[row0+r][col0+c]
		}
	}
	return out
}

// ReplaceSubSquare returns a copy of g with sub-square s overwritten by v.
func ReplaceSubSquare(s int, v [3][3]int, g Grid) Grid {
	row0, col0 := SubSquareOrigin(s)

	out := g
	for r := 0; r < SubSquareSize; r++ {
		for c := 0; c < SubSquareSize; c++ {
			out[row0+r][col0+c] = v[r][c]
		}
	}
	return out
}

// Diverged reports whether any cell outside sub-square s differs between a
// and b. Workers use this to detect that another peer's completed
// sub-square has mutated a row or column this job depends on.
func Diverged(s int, a, b Grid) bool {
	row0, col0 := SubSquareOrigin(s)

	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if r >= row0 && r < row0+SubSquareSize && c >= col0 && c < col0+SubSquareSize {
				continue
			}
			if a[r][c] != b[r][c] {
				return true
			}
		}
	}
	return false
}

// CountZeros returns the number of unknown cells in sub-square s.
func CountZeros(s int, g Grid) int {
	sq := ExtractSubSquare(s, g)

	n := 0
	for r := 0; r < SubSquareSize; r++ {
		for c := 0; c < SubSquareSize; c++ {
			if sq[r][c] == 0 {
				n++
			}
		}
	}
	return n
}

// Encode renders a sub-square snapshot as a canonical string, suitable for
// use as a fingerprint-cache key.
func Encode(sq [3][3]int) string {
	var buf [9 * 2]byte
	i := 0
	for r := 0; r < SubSquareSize; r++ {
		for c := 0; c < SubSquareSize; c++ {
			buf[i] = byte('0' + sq[r][c])
			buf[i+1] = ','
			i += 2
		}
	}
	return string(buf[:])
}

// maxFillAttempts bounds the randomized retry loop in UpdateSquare. The
// reference implementation retries forever, which can spin indefinitely on
// an unluckily-chosen partial assignment (see the design notes on
// randomized-filler non-termination); this rewrite caps the retries and
// reports failure instead of hanging.
const maxFillAttempts = 200

// ErrNoValidAssignment is returned by UpdateSquare when no digit 1..9 can
// legally be placed in the chosen cell after maxFillAttempts random draws.
// The caller should treat the sub-square as unsolvable from its current
// state and let the coordinator reassign it.
var ErrNoValidAssignment = fmt.Errorf("grid: no valid assignment found for cell after %d attempts", maxFillAttempts)

// UpdateSquare fills exactly one empty cell of sub-square s in g with a
// value drawn uniformly from 1..9 that does not conflict with the cell's
// row, column, or sub-square. It returns the updated grid and whether the
// sub-square is now completely filled.
//
// If s has no empty cells, it is a no-op that reports done=true.
func UpdateSquare(s int, g Grid) (Grid, bool, error) {
	cellRow, cellCol, found := firstEmptyCell(s, g)
	if !found {
		return g, true, nil
	}

	for attempt := 0; attempt < maxFillAttempts; attempt++ {
		v := rand.IntN(9) + 1
		if !conflicts(g, cellRow, cellCol, v) {
			g[cellRow][cellCol] = v
			return g, CountZeros(s, g) == 0, nil
		}
	}

	return g, false, ErrNoValidAssignment
}

func firstEmptyCell(s int, g Grid) (row, col int, ok bool) {
	row0, col0 := SubSquareOrigin(s)

	for r := 0; r < SubSquareSize; r++ {
		for c := 0; c < SubSquareSize; c++ {
			if g[row0+r][col0+c] == 0 {
				return row0 + r, col0 + c, true
			}
		}
	}
	return 0, 0, false
}

func conflicts(g Grid, row, col, v int) bool {
	for i := 0; i < Size; i++ {
		if g[row][i] == v || g[i][col] == v {
			return true
		}
	}

	s := subSquareIndex(row, col)
	sq := ExtractSubSquare(s, g)
	for r := 0; r < SubSquareSize; r++ {
		for c := 0; c < SubSquareSize; c++ {
			if sq[r][c] == v {
				return true
			}
		}
	}
	return false
}

func subSquareIndex(row, col int) int {
	return (row/SubSquareSize)*SubSquareSize + col/SubSquareSize
}

// Check reports whether every row, column, and sub-square of g is a
// permutation of 1..9.
func Check(g Grid) bool {
	for r := 0; r < Size; r++ {
		if !isPermutation(g[r][:]) {
			return false
		}
	}

	for c := 0; c < Size; c++ {
		var col [9]int
		for r := 0; r < Size; r++ {
			col[r] = g[r][c]
		}
		if !isPermutation(col[:]) {
			return false
		}
	}

	for s := 0; s < 9; s++ {
		sq := ExtractSubSquare(s, g)
		flat := make([]int, 0, 9)
		for r := 0; r < SubSquareSize; r++ {
			flat = append(flat, sq[r][:]...)
		}
		if !isPermutation(flat) {
			return false
		}
	}

	return true
}

func isPermutation(values []int) bool {
	var seen [10]bool
	for _, v := range values {
		if v < 1 || v > 9 || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}
