// Package members manages participant identity and referral codes.
package members

import (
	"context"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/member"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

// Service manages member registration and lookup.
type Service struct {
	store storage.MemberStore
	log   *logger.Logger
}

// New constructs a member service.
func New(store storage.MemberStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("members")
	}
	return &Service{store: store, log: log}
}

// Register creates a participant. referrerRef may be a member id or a
// referral code; it is optional only for the very first registrations.
func (s *Service) Register(ctx context.Context, displayName, referrerRef string) (member.Member, error) {
	displayName = strings.TrimSpace(displayName)
	referrerRef = strings.TrimSpace(referrerRef)
	if displayName == "" {
		return member.Member{}, apperrors.Validationf("display_name is required")
	}

	var referrerID string
	if referrerRef != "" {
		ref, err := s.resolveReferrer(ctx, referrerRef)
		if err != nil {
			return member.Member{}, err
		}
		referrerID = ref.ID
	}

	m := member.Member{
		DisplayName:  displayName,
		ReferralCode: newReferralCode(),
		ReferrerID:   referrerID,
	}
	m, err := s.store.CreateMember(ctx, m)
	if err != nil {
		return member.Member{}, err
	}
	s.log.WithField("member_id", m.ID).
		WithField("referrer_id", referrerID).
		Info("member registered")
	return m, nil
}

// Get retrieves a member by id.
func (s *Service) Get(ctx context.Context, id string) (member.Member, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return member.Member{}, apperrors.Validationf("member id is required")
	}
	return s.store.GetMember(ctx, id)
}

// GetByReferralCode retrieves a member by their referral code.
func (s *Service) GetByReferralCode(ctx context.Context, code string) (member.Member, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return member.Member{}, apperrors.Validationf("referral code is required")
	}
	return s.store.GetMemberByReferralCode(ctx, code)
}

// List returns all members.
func (s *Service) List(ctx context.Context) ([]member.Member, error) {
	return s.store.ListMembers(ctx)
}

func (s *Service) resolveReferrer(ctx context.Context, ref string) (member.Member, error) {
	if m, err := s.store.GetMember(ctx, ref); err == nil {
		return m, nil
	}
	m, err := s.store.GetMemberByReferralCode(ctx, ref)
	if err != nil {
		return member.Member{}, apperrors.NotFoundf("referrer %s not found", ref)
	}
	return m, nil
}

// newReferralCode derives a short shareable code from a fresh UUID.
func newReferralCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:10])
}
