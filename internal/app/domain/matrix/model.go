// Package matrix defines the bounded ternary compensation tree: a fixed
// 3/9/27-seat structure filled breadth-first, archived on completion and
// restarted for the same owner and slot.
package matrix

import (
	"fmt"
	"time"
)

// Seat geometry. Level capacities are fixed; the tree never grows past
// three levels.
const (
	Levels       = 3
	TreeCapacity = 39
)

// LevelCapacity returns the number of seats on a level (1-based).
func LevelCapacity(level int) int {
	switch level {
	case 1:
		return 3
	case 2:
		return 9
	case 3:
		return 27
	default:
		return 0
	}
}

// MiddleLevel2Positions are the level-2 seats whose earnings fund automatic
// slot upgrades: the three seats under the middle level-1 child.
var MiddleLevel2Positions = [3]int{3, 4, 5}

// Node is one seat in a tree. The occupant is written at most once.
type Node struct {
	Level      int       `json:"level"`
	Position   int       `json:"position"`
	OccupantID string    `json:"occupant_id,omitempty"`
	PlacedAt   time.Time `json:"placed_at,omitempty"`
}

// Occupied reports whether the seat holds a participant.
func (n Node) Occupied() bool { return n.OccupantID != "" }

// Tree is the live per-owner, per-slot matrix. Version backs optimistic
// concurrency control: every mutation must carry the version it read.
type Tree struct {
	ID               string
	OwnerID          string
	SlotNumber       int
	Nodes            []Node
	TotalMembers     int
	IsComplete       bool
	AutoUpgradeReady bool
	AutoUpgraded     bool
	RecycleCount     int
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewTree creates an empty tree with all 39 seats laid out in breadth-first
// order: level-1 positions 0..2, then level-2 positions 0..8, then level-3
// positions 0..26.
func NewTree(ownerID string, slot int) Tree {
	nodes := make([]Node, 0, TreeCapacity)
	for level := 1; level <= Levels; level++ {
		for pos := 0; pos < LevelCapacity(level); pos++ {
			nodes = append(nodes, Node{Level: level, Position: pos})
		}
	}
	return Tree{
		OwnerID:    ownerID,
		SlotNumber: slot,
		Nodes:      nodes,
	}
}

// FirstOpenSeat returns the index of the first unoccupied seat in the fixed
// breadth-first order, or -1 when the tree is full.
func (t Tree) FirstOpenSeat() int {
	for i := range t.Nodes {
		if !t.Nodes[i].Occupied() {
			return i
		}
	}
	return -1
}

// Occupy seats userID at node index idx. The write is append-only: occupied
// seats and duplicate occupants are rejected.
func (t *Tree) Occupy(idx int, userID string, at time.Time) error {
	if idx < 0 || idx >= len(t.Nodes) {
		return fmt.Errorf("seat index %d out of range", idx)
	}
	if t.Nodes[idx].Occupied() {
		return fmt.Errorf("seat %d/%d already occupied", t.Nodes[idx].Level, t.Nodes[idx].Position)
	}
	for i := range t.Nodes {
		if t.Nodes[i].OccupantID == userID {
			return fmt.Errorf("user %s already occupies seat %d/%d", userID, t.Nodes[i].Level, t.Nodes[i].Position)
		}
	}

	t.Nodes[idx].OccupantID = userID
	t.Nodes[idx].PlacedAt = at.UTC()
	t.TotalMembers++
	t.IsComplete = t.TotalMembers == TreeCapacity
	return nil
}

// OccupiedCount recounts seats from the node list.
func (t Tree) OccupiedCount() int {
	count := 0
	for i := range t.Nodes {
		if t.Nodes[i].Occupied() {
			count++
		}
	}
	return count
}

// MiddleOccupants returns the occupant ids of the three designated middle
// level-2 seats, skipping empty seats.
func (t Tree) MiddleOccupants() []string {
	var out []string
	for i := range t.Nodes {
		if t.Nodes[i].Level != 2 {
			continue
		}
		for _, pos := range MiddleLevel2Positions {
			if t.Nodes[i].Position == pos && t.Nodes[i].Occupied() {
				out = append(out, t.Nodes[i].OccupantID)
			}
		}
	}
	return out
}

// Contains reports whether userID occupies any seat of the tree.
func (t Tree) Contains(userID string) bool {
	for i := range t.Nodes {
		if t.Nodes[i].OccupantID == userID {
			return true
		}
	}
	return false
}

// CheckInvariants verifies the structural invariants that must hold after
// every mutation.
func (t Tree) CheckInvariants() error {
	if len(t.Nodes) != TreeCapacity {
		return fmt.Errorf("tree %s has %d seats, want %d", t.ID, len(t.Nodes), TreeCapacity)
	}
	occupied := t.OccupiedCount()
	if t.TotalMembers != occupied {
		return fmt.Errorf("tree %s: total_members %d != occupied %d", t.ID, t.TotalMembers, occupied)
	}
	if t.IsComplete != (t.TotalMembers == TreeCapacity) {
		return fmt.Errorf("tree %s: completion flag inconsistent with %d members", t.ID, t.TotalMembers)
	}
	seen := make(map[string]struct{}, occupied)
	for i := range t.Nodes {
		id := t.Nodes[i].OccupantID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("tree %s: occupant %s seated twice", t.ID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// CloneNodes returns an independent copy of the node list.
func (t Tree) CloneNodes() []Node {
	return append([]Node(nil), t.Nodes...)
}

// Snapshot is the immutable archive of a completed tree cycle.
type Snapshot struct {
	ID             string
	OwnerID        string
	SlotNumber     int
	SequenceNumber int
	Nodes          []Node
	TreeCreatedAt  time.Time
	CompletedAt    time.Time
	CreatedAt      time.Time
}
