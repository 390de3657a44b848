// Package member holds participant identity records.
package member

import "time"

// Member represents a platform participant. ReferrerID links the referral
// chain used by the commission cascade.
type Member struct {
	ID           string
	DisplayName  string
	ReferralCode string
	ReferrerID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
