// Package activation records slot funding events.
package activation

import "time"

// Type distinguishes how a slot was funded.
type Type string

const (
	TypeInitial Type = "initial"
	TypeUpgrade Type = "upgrade"
	TypeAuto    Type = "auto"
)

// Status of an activation record.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Activation is the funding record for one slot of one owner.
type Activation struct {
	ID          string
	OwnerID     string
	SlotNumber  int
	Type        Type
	Amount      float64
	TxReference string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
