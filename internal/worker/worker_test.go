package worker

import (
	"context"
	"testing"
	"time"

	"github.com/RGarrido03/CD-Project/internal/grid"
)

func TestRunFillsSquareToCompletion(t *testing.T) {
	var g grid.Grid
	// The whole grid is left empty: sub-square 0 then has nine cells to
	// fill, and nothing outside it can conflict, since UpdateSquare only
	// checks the sub-square and the row/column against non-zero cells.
	validations := 0

	result, ok := Run(context.Background(), Options{
		Square:       0,
		Upstream:     g,
		Handicap:     0,
		StillPending: func() bool { return true },
		OnValidation: func() { validations++ },
	})
	if !ok {
		t.Fatal("expected Run to complete the sub-square")
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if result[r][c] == 0 {
				t.Fatalf("cell (%d,%d) left unfilled: %v", r, c, result)
			}
		}
	}
	if validations == 0 {
		t.Fatal("expected at least one validation to be recorded")
	}
}

func TestRunAbandonsWhenStillPendingGoesFalse(t *testing.T) {
	var g grid.Grid
	calls := 0

	_, ok := Run(context.Background(), Options{
		Square:   0,
		Upstream: g,
		Handicap: 0,
		StillPending: func() bool {
			calls++
			return calls < 2
		},
	})
	if ok {
		t.Fatal("expected Run to abandon once StillPending returns false")
	}
}

func TestRunAbandonsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var g grid.Grid
	_, ok := Run(ctx, Options{
		Square:       0,
		Upstream:     g,
		Handicap:     0,
		StillPending: func() bool { return true },
	})
	if ok {
		t.Fatal("expected Run to abandon on a canceled context")
	}
}

func TestRunAbandonsOnDivergence(t *testing.T) {
	var upstream grid.Grid

	diverged := upstream
	diverged[0][4] = 7 // outside sub-square 0, but shares row 0 with it

	_, ok := Run(context.Background(), Options{
		Square:       0,
		Upstream:     upstream,
		Handicap:     0,
		StillPending: func() bool { return true },
		CurrentGrid:  func() grid.Grid { return diverged },
	})
	if ok {
		t.Fatal("expected Run to abandon once CurrentGrid diverges from Upstream outside the job's sub-square")
	}
}

func TestRunIgnoresChangesWithinOwnSquare(t *testing.T) {
	var upstream grid.Grid

	current := upstream
	current[0][0] = 5 // inside sub-square 0 — this worker's own cell, not divergence

	_, ok := Run(context.Background(), Options{
		Square:       0,
		Upstream:     upstream,
		Handicap:     0,
		StillPending: func() bool { return true },
		CurrentGrid:  func() grid.Grid { return current },
	})
	if !ok {
		t.Fatal("expected Run to complete: a change within its own sub-square is not divergence")
	}
}

func TestRunPacesByRemainingZeros(t *testing.T) {
	var g grid.Grid
	start := time.Now()

	_, ok := Run(context.Background(), Options{
		Square:       0,
		Upstream:     g,
		Handicap:     9 * time.Millisecond,
		StillPending: func() bool { return true },
	})
	if !ok {
		t.Fatal("expected completion")
	}
	// Eight placements leave 8..1 zeros behind, each followed by a sleep of
	// 9ms/(zeros+1): 1 + 1.125 + 1.29 + 1.5 + 1.8 + 2.25 + 3 + 4.5 ≈ 16.5ms.
	if elapsed := time.Since(start); elapsed < 16*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least 16ms of pacing delay", elapsed)
	}
}
