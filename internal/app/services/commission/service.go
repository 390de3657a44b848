// Package commission implements the payout cascade. Every payout is recorded
// before the credit is emitted, and every credit carries an idempotency key
// so the retry poller can safely re-emit failures.
package commission

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"

	domain "github.com/TriMatrix-Network/matrix_layer/internal/app/domain/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/metrics"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/services/ledger"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	"github.com/TriMatrix-Network/matrix_layer/internal/config"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

// Cascade step names reported back to callers when a payout fails.
const (
	StepMentorLink        = "mentor_link"
	StepJoiningCommission = "joining_commission"
	StepUpgradeCommission = "upgrade_commission"
	StepMentorshipBonus   = "mentorship_bonus"
)

// Service runs the commission cascade against the external ledger.
type Service struct {
	members storage.MemberStore
	store   storage.CommissionStore
	trees   storage.TreeStore
	ledger  ledger.Client
	plan    config.Matrix
	log     *logger.Logger
}

// New constructs a commission service.
func New(members storage.MemberStore, store storage.CommissionStore, trees storage.TreeStore, ledgerClient ledger.Client, plan config.Matrix, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("commission")
	}
	return &Service{
		members: members,
		store:   store,
		trees:   trees,
		ledger:  ledgerClient,
		plan:    plan,
		log:     log,
	}
}

// OnJoin records the mentorship link and pays the joining commission to the
// referrer plus the mentorship bonus to the super upline. Each step is
// independent; the names of failed steps are returned for the caller to
// surface.
func (s *Service) OnJoin(ctx context.Context, newUserID, referrerID string, amount float64) []string {
	var failed []string

	link, err := s.recordMentorLink(ctx, newUserID, referrerID)
	if err != nil {
		s.log.WithError(err).Warnf("mentor link for %s failed", newUserID)
		failed = append(failed, StepMentorLink)
	}

	joining := domain.Commission{
		SourceUserID:   newUserID,
		PayeeID:        referrerID,
		Amount:         amount * s.plan.JoiningPercent / 100,
		Percentage:     s.plan.JoiningPercent,
		Type:           domain.TypeJoining,
		ReasonCode:     "joining_commission",
		IdempotencyKey: fmt.Sprintf("joining:%s", newUserID),
	}
	if err := s.payout(ctx, joining); err != nil {
		failed = append(failed, StepJoiningCommission)
	}

	if link.SuperUpline != "" {
		bonus := domain.Commission{
			SourceUserID:   newUserID,
			PayeeID:        link.SuperUpline,
			Amount:         amount * s.plan.MentorshipPercent / 100,
			Percentage:     s.plan.MentorshipPercent,
			Type:           domain.TypeMentorship,
			ReasonCode:     "mentorship_bonus",
			IdempotencyKey: fmt.Sprintf("mentorship:join:%s", newUserID),
		}
		if err := s.payout(ctx, bonus); err != nil {
			failed = append(failed, StepMentorshipBonus)
		}
	}
	return failed
}

// OnUpgrade pays the upgrade commission to the user's immediate matrix
// upline at the slot being left, plus the mentorship bonus to the recorded
// super upline. A user with no seat at the slot simply has no upline to pay.
func (s *Service) OnUpgrade(ctx context.Context, userID string, fromSlot, toSlot int, amount float64) []string {
	var failed []string

	uplineTree, err := s.trees.FindTreeBySlotOccupant(ctx, fromSlot, userID)
	switch {
	case err == nil:
		upgrade := domain.Commission{
			SourceUserID:   userID,
			PayeeID:        uplineTree.OwnerID,
			Amount:         amount * s.plan.UpgradePercent / 100,
			Percentage:     s.plan.UpgradePercent,
			Type:           domain.TypeUpgrade,
			ReasonCode:     "upgrade_commission",
			IdempotencyKey: fmt.Sprintf("upgrade:%s:%d", userID, toSlot),
		}
		if err := s.payout(ctx, upgrade); err != nil {
			failed = append(failed, StepUpgradeCommission)
		}
	case apperrors.IsKind(err, apperrors.KindNotFound):
		s.log.WithField("user_id", userID).
			WithField("slot", fromSlot).
			Debug("no seated upline for upgrade commission")
	default:
		s.log.WithError(err).Warnf("upline lookup for %s failed", userID)
		failed = append(failed, StepUpgradeCommission)
	}

	link, err := s.store.GetMentorLink(ctx, userID)
	if err == nil && link.SuperUpline != "" {
		bonus := domain.Commission{
			SourceUserID:   userID,
			PayeeID:        link.SuperUpline,
			Amount:         amount * s.plan.MentorshipPercent / 100,
			Percentage:     s.plan.MentorshipPercent,
			Type:           domain.TypeMentorship,
			ReasonCode:     "mentorship_bonus",
			IdempotencyKey: fmt.Sprintf("mentorship:upgrade:%s:%d", userID, toSlot),
		}
		if err := s.payout(ctx, bonus); err != nil {
			failed = append(failed, StepMentorshipBonus)
		}
	}
	return failed
}

// ListByPayee returns all commission records owed to a member.
func (s *Service) ListByPayee(ctx context.Context, payeeID string) ([]domain.Commission, error) {
	return s.store.ListCommissionsByPayee(ctx, payeeID)
}

// Retry re-emits a failed commission with its original idempotency key.
func (s *Service) Retry(ctx context.Context, c domain.Commission) (domain.Commission, error) {
	if c.Status != domain.StatusFailed {
		return c, apperrors.Statef("commission %s is %s, not failed", c.ID, c.Status)
	}
	return s.emit(ctx, c)
}

// recordMentorLink stores the referrer-of-referrer chain for the new user.
// The link is written once; a replayed join returns the existing record.
func (s *Service) recordMentorLink(ctx context.Context, newUserID, referrerID string) (domain.MentorLink, error) {
	referrer, err := s.members.GetMember(ctx, referrerID)
	if err != nil {
		return domain.MentorLink{}, err
	}
	link := domain.MentorLink{
		ReferrerID:  referrerID,
		NewUserID:   newUserID,
		SuperUpline: referrer.ReferrerID,
	}
	return s.store.CreateMentorLink(ctx, link)
}

// payout records the commission then emits the credit. The record always
// lands, even when the credit fails; failures stay queryable for the retry
// poller.
func (s *Service) payout(ctx context.Context, c domain.Commission) error {
	c.Status = domain.StatusPending
	created, err := s.store.CreateCommission(ctx, c)
	if err != nil {
		s.log.WithError(err).Warnf("record %s commission failed", c.Type)
		return err
	}
	if _, err := s.emit(ctx, created); err != nil {
		return err
	}
	return nil
}

func (s *Service) emit(ctx context.Context, c domain.Commission) (domain.Commission, error) {
	intent := ledger.CreditIntent{
		PayeeID:        c.PayeeID,
		Amount:         c.Amount,
		Currency:       s.plan.Currency,
		ReasonCode:     c.ReasonCode,
		IdempotencyKey: c.IdempotencyKey,
	}
	if err := s.ledger.Credit(ctx, intent); err != nil {
		c.Status = domain.StatusFailed
		if _, updateErr := s.store.UpdateCommission(ctx, c); updateErr != nil {
			s.log.WithError(updateErr).Warnf("mark commission %s failed", c.ID)
		}
		metrics.ObserveCommission(string(c.Type), string(domain.StatusFailed))
		s.log.WithError(err).
			WithField("payee_id", c.PayeeID).
			Warnf("%s credit failed", c.Type)
		return c, apperrors.Downstreamf(err, "credit %s to %s", c.Type, c.PayeeID)
	}

	c.Status = domain.StatusPaid
	c.PaidAt = time.Now().UTC()
	c, err := s.store.UpdateCommission(ctx, c)
	if err != nil {
		return c, err
	}
	metrics.ObserveCommission(string(c.Type), string(domain.StatusPaid))
	s.log.WithField("payee_id", c.PayeeID).
		WithField("amount", c.Amount).
		Infof("%s commission paid", c.Type)
	return c, nil
}
