package ledger

import (
	"context"
	"errors"
	"sync"
)

// Recorder is an in-process Client that accepts every credit and remembers
// it. It backs local runs without a ledger endpoint and the service tests.
type Recorder struct {
	mu      sync.Mutex
	intents []CreditIntent

	// FailWith, when set, makes every Credit call fail without recording.
	FailWith error

	// RejectKeys lists idempotency keys to fail; other credits succeed.
	RejectKeys map[string]bool
}

// NewRecorder constructs an accepting in-process ledger.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Credit(_ context.Context, intent CreditIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	if r.RejectKeys[intent.IdempotencyKey] {
		return errors.New("ledger rejected credit")
	}
	r.intents = append(r.intents, intent)
	return nil
}

// Intents returns a copy of all accepted credits in emission order.
func (r *Recorder) Intents() []CreditIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CreditIntent(nil), r.intents...)
}

// CreditedTo sums accepted credit amounts for a payee.
func (r *Recorder) CreditedTo(payeeID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for _, intent := range r.intents {
		if intent.PayeeID == payeeID {
			total += intent.Amount
		}
	}
	return total
}
