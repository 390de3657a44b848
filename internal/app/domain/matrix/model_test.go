package matrix

import (
	"testing"
	"time"
)

func TestNewTreeLayout(t *testing.T) {
	tree := NewTree("owner", 1)
	if len(tree.Nodes) != TreeCapacity {
		t.Fatalf("expected %d seats, got %d", TreeCapacity, len(tree.Nodes))
	}

	// Seats must come out in breadth-first order: 3, then 9, then 27.
	idx := 0
	for level := 1; level <= Levels; level++ {
		for pos := 0; pos < LevelCapacity(level); pos++ {
			node := tree.Nodes[idx]
			if node.Level != level || node.Position != pos {
				t.Fatalf("seat %d is %d/%d, want %d/%d", idx, node.Level, node.Position, level, pos)
			}
			idx++
		}
	}
}

func TestOccupyFillsBreadthFirst(t *testing.T) {
	tree := NewTree("owner", 1)
	now := time.Now()
	for i := 0; i < TreeCapacity; i++ {
		seat := tree.FirstOpenSeat()
		if seat != i {
			t.Fatalf("placement %d landed at seat %d", i, seat)
		}
		if err := tree.Occupy(seat, userID(i), now); err != nil {
			t.Fatalf("occupy %d: %v", i, err)
		}
		if err := tree.CheckInvariants(); err != nil {
			t.Fatalf("invariants after placement %d: %v", i, err)
		}
	}
	if !tree.IsComplete {
		t.Fatalf("tree should be complete after %d placements", TreeCapacity)
	}
	if tree.FirstOpenSeat() != -1 {
		t.Fatalf("complete tree should report no open seat")
	}
}

func TestOccupyRejectsDuplicates(t *testing.T) {
	tree := NewTree("owner", 1)
	now := time.Now()
	if err := tree.Occupy(0, "u1", now); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	if err := tree.Occupy(0, "u2", now); err == nil {
		t.Fatalf("expected occupied-seat rejection")
	}
	if err := tree.Occupy(1, "u1", now); err == nil {
		t.Fatalf("expected duplicate-occupant rejection")
	}
	if tree.TotalMembers != 1 {
		t.Fatalf("failed writes must not change totals: %d", tree.TotalMembers)
	}
}

func TestMiddleOccupants(t *testing.T) {
	tree := NewTree("owner", 1)
	now := time.Now()
	// Fill levels 1 and 2 completely: seats 0..11.
	for i := 0; i < 12; i++ {
		if err := tree.Occupy(i, userID(i), now); err != nil {
			t.Fatalf("occupy %d: %v", i, err)
		}
	}
	middle := tree.MiddleOccupants()
	if len(middle) != 3 {
		t.Fatalf("expected 3 middle occupants, got %d", len(middle))
	}
	// Level-2 position p sits at seat index 3+p.
	want := map[string]bool{userID(6): true, userID(7): true, userID(8): true}
	for _, id := range middle {
		if !want[id] {
			t.Fatalf("unexpected middle occupant %s", id)
		}
	}
}

func TestCheckInvariantsDetectsDrift(t *testing.T) {
	tree := NewTree("owner", 1)
	if err := tree.Occupy(0, "u1", time.Now()); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	tree.TotalMembers = 5
	if err := tree.CheckInvariants(); err == nil {
		t.Fatalf("expected invariant violation")
	}
}

func userID(i int) string {
	return "user-" + string(rune('A'+i/26)) + string(rune('a'+i%26))
}
