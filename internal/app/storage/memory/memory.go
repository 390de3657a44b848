package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/activation"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/matrix"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/member"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. Version checks mirror the conditional updates of the postgres
// store so seat races behave identically in both.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	members         map[string]member.Member
	membersByCode   map[string]string
	trees           map[string]matrix.Tree // key: owner|slot
	snapshots       map[string][]matrix.Snapshot
	activations     map[string][]activation.Activation
	commissions     map[string]commission.Commission
	commissionOrder []string
	mentorLinks     map[string]commission.MentorLink // key: new user id
}

var _ storage.MemberStore = (*Store)(nil)
var _ storage.TreeStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)
var _ storage.ActivationStore = (*Store)(nil)
var _ storage.CommissionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		members:       make(map[string]member.Member),
		membersByCode: make(map[string]string),
		trees:         make(map[string]matrix.Tree),
		snapshots:     make(map[string][]matrix.Snapshot),
		activations:   make(map[string][]activation.Activation),
		commissions:   make(map[string]commission.Commission),
		mentorLinks:   make(map[string]commission.MentorLink),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func treeKey(ownerID string, slot int) string {
	return fmt.Sprintf("%s|%d", ownerID, slot)
}

// MemberStore implementation -------------------------------------------------

func (s *Store) CreateMember(_ context.Context, m member.Member) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = s.nextIDLocked()
	} else if _, exists := s.members[m.ID]; exists {
		return member.Member{}, fmt.Errorf("member %s already exists", m.ID)
	}

	codeKey := strings.ToLower(strings.TrimSpace(m.ReferralCode))
	if codeKey != "" {
		if existing, exists := s.membersByCode[codeKey]; exists {
			return member.Member{}, fmt.Errorf("referral code %s already assigned to member %s", m.ReferralCode, existing)
		}
	}

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	s.members[m.ID] = m
	if codeKey != "" {
		s.membersByCode[codeKey] = m.ID
	}
	return m, nil
}

func (s *Store) GetMember(_ context.Context, id string) (member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[id]
	if !ok {
		return member.Member{}, apperrors.NotFoundf("member %s not found", id)
	}
	return m, nil
}

func (s *Store) GetMemberByReferralCode(_ context.Context, code string) (member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.membersByCode[strings.ToLower(strings.TrimSpace(code))]; ok {
		return s.members[id], nil
	}
	return member.Member{}, apperrors.NotFoundf("member with referral code %s not found", code)
}

func (s *Store) ListMembers(_ context.Context) ([]member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]member.Member, 0, len(s.members))
	for _, m := range s.members {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// TreeStore implementation ---------------------------------------------------

func (s *Store) CreateTree(_ context.Context, t matrix.Tree) (matrix.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := treeKey(t.OwnerID, t.SlotNumber)
	if _, exists := s.trees[key]; exists {
		return matrix.Tree{}, apperrors.Conflictf("tree for owner %s slot %d already exists", t.OwnerID, t.SlotNumber)
	}

	if t.ID == "" {
		t.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1
	t.Nodes = append([]matrix.Node(nil), t.Nodes...)

	s.trees[key] = t
	return cloneTree(t), nil
}

func (s *Store) GetTree(_ context.Context, ownerID string, slot int) (matrix.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trees[treeKey(ownerID, slot)]
	if !ok {
		return matrix.Tree{}, apperrors.NotFoundf("tree for owner %s slot %d not found", ownerID, slot)
	}
	return cloneTree(t), nil
}

func (s *Store) UpdateTree(_ context.Context, t matrix.Tree) (matrix.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := treeKey(t.OwnerID, t.SlotNumber)
	original, ok := s.trees[key]
	if !ok {
		return matrix.Tree{}, apperrors.NotFoundf("tree for owner %s slot %d not found", t.OwnerID, t.SlotNumber)
	}
	if original.Version != t.Version {
		return matrix.Tree{}, apperrors.Conflictf("tree for owner %s slot %d moved from version %d", t.OwnerID, t.SlotNumber, t.Version)
	}

	t.ID = original.ID
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	t.Version = original.Version + 1
	t.Nodes = append([]matrix.Node(nil), t.Nodes...)

	s.trees[key] = t
	return cloneTree(t), nil
}

func (s *Store) ListTrees(_ context.Context, ownerID string) ([]matrix.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]matrix.Tree, 0)
	for _, t := range s.trees {
		if ownerID == "" || t.OwnerID == ownerID {
			result = append(result, cloneTree(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SlotNumber < result[j].SlotNumber })
	return result, nil
}

func (s *Store) FindTreeBySlotOccupant(_ context.Context, slot int, userID string) (matrix.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.trees {
		if t.SlotNumber == slot && t.Contains(userID) {
			return cloneTree(t), nil
		}
	}
	return matrix.Tree{}, apperrors.NotFoundf("no slot %d tree contains user %s", slot, userID)
}

func (s *Store) ArchiveAndReset(_ context.Context, snap matrix.Snapshot, reset matrix.Tree) (matrix.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := treeKey(snap.OwnerID, snap.SlotNumber)
	for _, existing := range s.snapshots[key] {
		if existing.SequenceNumber == snap.SequenceNumber {
			// Replayed completion: the earlier call already reset the tree.
			return cloneSnapshot(existing), false, nil
		}
	}

	original, ok := s.trees[key]
	if !ok {
		return matrix.Snapshot{}, false, apperrors.NotFoundf("tree for owner %s slot %d not found", snap.OwnerID, snap.SlotNumber)
	}
	if original.Version != reset.Version {
		return matrix.Snapshot{}, false, apperrors.Conflictf("tree for owner %s slot %d moved from version %d", snap.OwnerID, snap.SlotNumber, reset.Version)
	}

	if snap.ID == "" {
		snap.ID = s.nextIDLocked()
	}
	snap.CreatedAt = time.Now().UTC()
	snap.Nodes = append([]matrix.Node(nil), snap.Nodes...)

	reset.ID = original.ID
	reset.CreatedAt = original.CreatedAt
	reset.UpdatedAt = snap.CreatedAt
	reset.Version = original.Version + 1
	reset.Nodes = append([]matrix.Node(nil), reset.Nodes...)

	s.snapshots[key] = append(s.snapshots[key], snap)
	s.trees[key] = reset
	return cloneSnapshot(snap), true, nil
}

// SnapshotStore implementation -----------------------------------------------

func (s *Store) GetSnapshot(_ context.Context, ownerID string, slot, sequence int) (matrix.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.snapshots[treeKey(ownerID, slot)] {
		if snap.SequenceNumber == sequence {
			return cloneSnapshot(snap), nil
		}
	}
	return matrix.Snapshot{}, apperrors.NotFoundf("snapshot %d for owner %s slot %d not found", sequence, ownerID, slot)
}

func (s *Store) ListSnapshots(_ context.Context, ownerID string, slot int) ([]matrix.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.snapshots[treeKey(ownerID, slot)]
	result := make([]matrix.Snapshot, 0, len(stored))
	for _, snap := range stored {
		result = append(result, cloneSnapshot(snap))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SequenceNumber < result[j].SequenceNumber })
	return result, nil
}

// ActivationStore implementation ---------------------------------------------

func (s *Store) CreateActivation(_ context.Context, act activation.Activation) (activation.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if act.ID == "" {
		act.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	act.CreatedAt = now
	act.UpdatedAt = now

	s.activations[act.OwnerID] = append(s.activations[act.OwnerID], act)
	return act, nil
}

func (s *Store) ListActivations(_ context.Context, ownerID string) ([]activation.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]activation.Activation(nil), s.activations[ownerID]...), nil
}

// CommissionStore implementation ---------------------------------------------

func (s *Store) CreateCommission(_ context.Context, c commission.Commission) (commission.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	} else if _, exists := s.commissions[c.ID]; exists {
		return commission.Commission{}, fmt.Errorf("commission %s already exists", c.ID)
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	s.commissions[c.ID] = c
	s.commissionOrder = append(s.commissionOrder, c.ID)
	return c, nil
}

func (s *Store) UpdateCommission(_ context.Context, c commission.Commission) (commission.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.commissions[c.ID]
	if !ok {
		return commission.Commission{}, apperrors.NotFoundf("commission %s not found", c.ID)
	}
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	s.commissions[c.ID] = c
	return c, nil
}

func (s *Store) GetCommission(_ context.Context, id string) (commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commissions[id]
	if !ok {
		return commission.Commission{}, apperrors.NotFoundf("commission %s not found", id)
	}
	return c, nil
}

func (s *Store) ListCommissionsByPayee(_ context.Context, payeeID string) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]commission.Commission, 0)
	for _, id := range s.commissionOrder {
		if c := s.commissions[id]; c.PayeeID == payeeID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *Store) ListFailedCommissions(_ context.Context) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]commission.Commission, 0)
	for _, id := range s.commissionOrder {
		if c := s.commissions[id]; c.Status == commission.StatusFailed {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *Store) CreateMentorLink(_ context.Context, link commission.MentorLink) (commission.MentorLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.mentorLinks[link.NewUserID]; ok {
		return existing, nil
	}
	if link.ID == "" {
		link.ID = s.nextIDLocked()
	}
	link.CreatedAt = time.Now().UTC()
	s.mentorLinks[link.NewUserID] = link
	return link, nil
}

func (s *Store) GetMentorLink(_ context.Context, newUserID string) (commission.MentorLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.mentorLinks[newUserID]
	if !ok {
		return commission.MentorLink{}, apperrors.NotFoundf("mentor link for user %s not found", newUserID)
	}
	return link, nil
}

// Helpers --------------------------------------------------------------------

func cloneTree(t matrix.Tree) matrix.Tree {
	t.Nodes = append([]matrix.Node(nil), t.Nodes...)
	return t
}

func cloneSnapshot(snap matrix.Snapshot) matrix.Snapshot {
	snap.Nodes = append([]matrix.Node(nil), snap.Nodes...)
	return snap
}
