package grid

import "testing"

// a known-solvable puzzle, borrowed from the kind of fixtures the reference
// corpus's own sudoku test suites use.
var samplePuzzle = Grid{
	{5, 3, 0, 0, 7, 0, 0, 0, 0},
	{6, 0, 0, 1, 9, 5, 0, 0, 0},
	{0, 9, 8, 0, 0, 0, 0, 6, 0},
	{8, 0, 0, 0, 6, 0, 0, 0, 3},
	{4, 0, 0, 8, 0, 3, 0, 0, 1},
	{7, 0, 0, 0, 2, 0, 0, 0, 6},
	{0, 6, 0, 0, 0, 0, 2, 8, 0},
	{0, 0, 0, 4, 1, 9, 0, 0, 5},
	{0, 0, 0, 0, 8, 0, 0, 7, 9},
}

var solvedPuzzle = Grid{
	{5, 3, 4, 6, 7, 8, 9, 1, 2},
	{6, 7, 2, 1, 9, 5, 3, 4, 8},
	{1, 9, 8, 3, 4, 2, 5, 6, 7},
	{8, 5, 9, 7, 6, 1, 4, 2, 3},
	{4, 2, 6, 8, 5, 3, 7, 9, 1},
	{7, 1, 3, 9, 2, 4, 8, 5, 6},
	{9, 6, 1, 5, 3, 7, 2, 8, 4},
	{2, 8, 7, 4, 1, 9, 6, 3, 5},
	{3, 4, 5, 2, 8, 6, 1, 7, 9},
}

func TestCheckAcceptsSolvedGrid(t *testing.T) {
	if !Check(solvedPuzzle) {
		t.Fatal("expected solved puzzle to pass check")
	}
}

func TestCheckRejectsPartialGrid(t *testing.T) {
	if Check(samplePuzzle) {
		t.Fatal("expected partial puzzle to fail check")
	}
}

func TestCheckRejectsDuplicateRow(t *testing.T) {
	bad := solvedPuzzle
	bad[0][0] = bad[0][1]
	if Check(bad) {
		t.Fatal("expected duplicate-row grid to fail check")
	}
}

func TestExtractReplaceRoundTrip(t *testing.T) {
	for s := 0; s < 9; s++ {
		sq := ExtractSubSquare(s, solvedPuzzle)
		roundTripped := ReplaceSubSquare(s, sq, samplePuzzle)

		if got := ExtractSubSquare(s, roundTripped); got != sq {
			t.Fatalf("sub-square %d: ExtractSubSquare(ReplaceSubSquare(...)) != v, got %v want %v", s, got, sq)
		}
	}
}

func TestReplaceSubSquareIsNoopWithOwnValue(t *testing.T) {
	for s := 0; s < 9; s++ {
		sq := ExtractSubSquare(s, samplePuzzle)
		if got := ReplaceSubSquare(s, sq, samplePuzzle); got != samplePuzzle {
			t.Fatalf("sub-square %d: replace with own extracted value changed the grid", s)
		}
	}
}

func TestCountZeros(t *testing.T) {
	// sub-square 0 of samplePuzzle: {5,3,0},{6,0,0},{0,9,8} -> four zeros.
	if got := CountZeros(0, samplePuzzle); got != 4 {
		t.Fatalf("CountZeros(0) = %d, want 4", got)
	}

	if got := CountZeros(0, solvedPuzzle); got != 0 {
		t.Fatalf("CountZeros(0) on solved grid = %d, want 0", got)
	}
}

func TestUpdateSquareNoopWhenFull(t *testing.T) {
	out, done, err := UpdateSquare(4, solvedPuzzle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected done=true for a fully-filled sub-square")
	}
	if out != solvedPuzzle {
		t.Fatal("expected grid unchanged when sub-square already complete")
	}
}

func TestUpdateSquareFillsLegalValue(t *testing.T) {
	g, done, err := UpdateSquare(0, samplePuzzle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatal("expected done=false, three zeros remain after filling one")
	}
	if CountZeros(0, g) != CountZeros(0, samplePuzzle)-1 {
		t.Fatalf("expected exactly one fewer zero in sub-square 0")
	}

	row0, col0 := SubSquareOrigin(0)
	for r := 0; r < SubSquareSize; r++ {
		for c := 0; c < SubSquareSize; c++ {
			if samplePuzzle[row0+r][col0+c] != 0 {
				if g[row0+r][col0+c] != samplePuzzle[row0+r][col0+c] {
					t.Fatalf("pre-filled cell (%d,%d) was overwritten", row0+r, col0+c)
				}
			}
		}
	}
}

func TestEncodeIsCanonicalPerValue(t *testing.T) {
	sq := ExtractSubSquare(0, solvedPuzzle)
	a := Encode(sq)
	b := Encode(sq)
	if a != b {
		t.Fatal("Encode should be deterministic for the same snapshot")
	}

	other := ExtractSubSquare(1, solvedPuzzle)
	if Encode(other) == a {
		t.Fatal("different sub-squares encoded to the same fingerprint key")
	}
}
