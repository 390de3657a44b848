package storage

import (
	"context"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/activation"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/matrix"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/member"
)

// MemberStore persists participant identity records.
type MemberStore interface {
	CreateMember(ctx context.Context, m member.Member) (member.Member, error)
	GetMember(ctx context.Context, id string) (member.Member, error)
	GetMemberByReferralCode(ctx context.Context, code string) (member.Member, error)
	ListMembers(ctx context.Context) ([]member.Member, error)
}

// TreeStore persists live matrix trees. UpdateTree and ArchiveAndReset are
// conditional on the version the caller read; a moved version surfaces as a
// conflict so the caller can re-read and retry.
type TreeStore interface {
	CreateTree(ctx context.Context, t matrix.Tree) (matrix.Tree, error)
	GetTree(ctx context.Context, ownerID string, slot int) (matrix.Tree, error)
	UpdateTree(ctx context.Context, t matrix.Tree) (matrix.Tree, error)
	ListTrees(ctx context.Context, ownerID string) ([]matrix.Tree, error)
	// FindTreeBySlotOccupant locates the tree of the given slot in which the
	// user currently holds a seat (the immediate matrix upline's tree).
	FindTreeBySlotOccupant(ctx context.Context, slot int, userID string) (matrix.Tree, error)
	// ArchiveAndReset writes the snapshot and replaces the live tree in one
	// indivisible step. When a snapshot with the same owner/slot/sequence
	// already exists the stored one is returned with created=false and the
	// live tree is left untouched.
	ArchiveAndReset(ctx context.Context, snap matrix.Snapshot, reset matrix.Tree) (matrix.Snapshot, bool, error)
}

// SnapshotStore reads archived tree cycles. Snapshots are written only
// through TreeStore.ArchiveAndReset and never mutated.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, ownerID string, slot, sequence int) (matrix.Snapshot, error)
	ListSnapshots(ctx context.Context, ownerID string, slot int) ([]matrix.Snapshot, error)
}

// ActivationStore persists slot funding records.
type ActivationStore interface {
	CreateActivation(ctx context.Context, act activation.Activation) (activation.Activation, error)
	ListActivations(ctx context.Context, ownerID string) ([]activation.Activation, error)
}

// CommissionStore persists payout records and mentorship links.
type CommissionStore interface {
	CreateCommission(ctx context.Context, c commission.Commission) (commission.Commission, error)
	UpdateCommission(ctx context.Context, c commission.Commission) (commission.Commission, error)
	GetCommission(ctx context.Context, id string) (commission.Commission, error)
	ListCommissionsByPayee(ctx context.Context, payeeID string) ([]commission.Commission, error)
	ListFailedCommissions(ctx context.Context) ([]commission.Commission, error)

	CreateMentorLink(ctx context.Context, link commission.MentorLink) (commission.MentorLink, error)
	GetMentorLink(ctx context.Context, newUserID string) (commission.MentorLink, error)
}
