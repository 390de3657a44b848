// Package commission holds payout intents produced by the cascade. Records
// track what the platform owes; balances live in the external ledger.
package commission

import "time"

// Type classifies the cascade rule that produced a commission.
type Type string

const (
	TypeJoining    Type = "joining"
	TypeUpgrade    Type = "upgrade"
	TypeMentorship Type = "mentorship"
)

// Status of a commission record. Failed commissions are re-emitted by the
// retry poller with the same idempotency key.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Commission is one payer-to-payee payout record.
type Commission struct {
	ID             string
	SourceUserID   string
	PayeeID        string
	Amount         float64
	Percentage     float64
	Type           Type
	Status         Status
	ReasonCode     string
	IdempotencyKey string
	PaidAt         time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MentorLink persists the referrer-of-referrer relationship so mentorship
// bonuses never recompute the chain.
type MentorLink struct {
	ID          string
	ReferrerID  string
	NewUserID   string
	SuperUpline string
	CreatedAt   time.Time
}
