// Package placement seats new members into their referrer's slot-1 tree and
// drives the steps that follow a successful placement. The seat write is the
// only step that can fail the join; everything after it is reported but
// never rolled back.
package placement

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/activation"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/matrix"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/metrics"
	commissionsvc "github.com/TriMatrix-Network/matrix_layer/internal/app/services/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/services/hooks"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/services/recycle"
	upgradesvc "github.com/TriMatrix-Network/matrix_layer/internal/app/services/upgrade"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	"github.com/TriMatrix-Network/matrix_layer/internal/config"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

// maxPlacementRetries bounds the optimistic-concurrency retry loop for one
// join attempt.
const maxPlacementRetries = 3

// Post-placement step names surfaced in JoinResult.FailedSteps.
const (
	StepRecycle     = "recycle"
	StepAutoUpgrade = "auto_upgrade"
)

// Service orchestrates the join flow.
type Service struct {
	members     storage.MemberStore
	trees       storage.TreeStore
	activations storage.ActivationStore
	plan        config.Matrix
	log         *logger.Logger

	recycler *recycle.Service
	upgrader *upgradesvc.Service
	cascade  *commissionsvc.Service
	notifier *hooks.Notifier
}

// New constructs a placement service.
func New(members storage.MemberStore, trees storage.TreeStore, activations storage.ActivationStore, plan config.Matrix, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("placement")
	}
	return &Service{
		members:     members,
		trees:       trees,
		activations: activations,
		plan:        plan,
		log:         log,
	}
}

// AttachDependencies wires the services run after a successful seat write.
func (s *Service) AttachDependencies(recycler *recycle.Service, upgrader *upgradesvc.Service, cascade *commissionsvc.Service, notifier *hooks.Notifier) {
	s.recycler = recycler
	s.upgrader = upgrader
	s.cascade = cascade
	s.notifier = notifier
}

// JoinResult reports where the member landed and what happened afterwards.
type JoinResult struct {
	TreeOwnerID     string
	SlotNumber      int
	Level           int
	Position        int
	TotalMembers    int
	TreeComplete    bool
	Recycled        bool
	RecycleSequence int
	AutoUpgraded    bool
	FailedSteps     []string
}

// Join seats userID in referrerID's slot-1 tree at the first open
// breadth-first seat, records the slot-1 activation, then runs the recycle
// check, the auto-upgrade evaluation, the commission cascade and the hooks.
func (s *Service) Join(ctx context.Context, userID, referrerID, txRef string, amount float64) (JoinResult, error) {
	userID = strings.TrimSpace(userID)
	referrerID = strings.TrimSpace(referrerID)
	if userID == "" || referrerID == "" {
		return JoinResult{}, apperrors.Validationf("user_id and referrer_id are required")
	}
	if userID == referrerID {
		return JoinResult{}, apperrors.Validationf("member %s cannot join under themselves", userID)
	}
	cost, err := s.plan.SlotCost(1)
	if err != nil {
		return JoinResult{}, err
	}
	if amount != cost {
		return JoinResult{}, apperrors.Validationf("slot 1 costs %.2f, got %.2f", cost, amount)
	}

	if _, err := s.members.GetMember(ctx, userID); err != nil {
		return JoinResult{}, err
	}
	if _, err := s.members.GetMember(ctx, referrerID); err != nil {
		return JoinResult{}, err
	}
	if err := s.ensureNotJoined(ctx, userID); err != nil {
		return JoinResult{}, err
	}

	tree, seat, err := s.place(ctx, userID, referrerID)
	if err != nil {
		return JoinResult{}, err
	}
	metrics.ObservePlacement("ok")

	act := activation.Activation{
		OwnerID:     userID,
		SlotNumber:  1,
		Type:        activation.TypeInitial,
		Amount:      amount,
		TxReference: txRef,
		Status:      activation.StatusCompleted,
	}
	if _, err := s.activations.CreateActivation(ctx, act); err != nil {
		return JoinResult{}, err
	}

	result := JoinResult{
		TreeOwnerID:  referrerID,
		SlotNumber:   1,
		Level:        tree.Nodes[seat].Level,
		Position:     tree.Nodes[seat].Position,
		TotalMembers: tree.TotalMembers,
		TreeComplete: tree.IsComplete,
	}
	s.log.WithField("user_id", userID).
		WithField("referrer_id", referrerID).
		WithField("level", result.Level).
		WithField("position", result.Position).
		Info("member placed")

	if tree.IsComplete && s.recycler != nil {
		recycled, err := s.recycler.Recycle(ctx, referrerID, 1)
		if err != nil {
			s.log.WithError(err).Warnf("recycle for %s failed", referrerID)
			result.FailedSteps = append(result.FailedSteps, StepRecycle)
		} else {
			result.Recycled = true
			result.RecycleSequence = recycled.SequenceNumber
		}
	}

	if s.upgrader != nil {
		eval, err := s.upgrader.Evaluate(ctx, referrerID)
		switch {
		case apperrors.IsKind(err, apperrors.KindNotFound):
			// A referrer with no funded slot has no ladder to climb.
		case err != nil:
			s.log.WithError(err).Warnf("auto-upgrade evaluation for %s failed", referrerID)
			result.FailedSteps = append(result.FailedSteps, StepAutoUpgrade)
		default:
			result.AutoUpgraded = eval.Upgraded
			result.FailedSteps = append(result.FailedSteps, eval.FailedSteps...)
		}
	}

	if s.cascade != nil {
		result.FailedSteps = append(result.FailedSteps, s.cascade.OnJoin(ctx, userID, referrerID, amount)...)
	}
	if s.notifier != nil {
		result.FailedSteps = append(result.FailedSteps, s.notifier.AfterJoin(ctx, userID, referrerID, 1)...)
	}
	return result, nil
}

// Trees returns the member's live trees across all slots.
func (s *Service) Trees(ctx context.Context, ownerID string) ([]matrix.Tree, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperrors.Validationf("owner id is required")
	}
	return s.trees.ListTrees(ctx, ownerID)
}

// place writes the seat under optimistic concurrency. A lost race re-reads
// the tree and tries again up to maxPlacementRetries times.
func (s *Service) place(ctx context.Context, userID, referrerID string) (matrix.Tree, int, error) {
	var lastErr error
	for attempt := 0; attempt < maxPlacementRetries; attempt++ {
		tree, err := s.loadOrCreateTree(ctx, referrerID)
		if err != nil {
			return matrix.Tree{}, 0, err
		}
		if tree.IsComplete {
			metrics.ObservePlacement("unavailable")
			return matrix.Tree{}, 0, apperrors.Statef("tree %s/1 is full pending recycle", referrerID)
		}

		seat := tree.FirstOpenSeat()
		if err := tree.Occupy(seat, userID, time.Now()); err != nil {
			metrics.ObservePlacement("rejected")
			return matrix.Tree{}, 0, apperrors.Statef("%v", err)
		}

		updated, err := s.trees.UpdateTree(ctx, tree)
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindConflict) {
				metrics.ObservePlacementRetry()
				lastErr = err
				continue
			}
			return matrix.Tree{}, 0, err
		}
		return updated, seat, nil
	}
	metrics.ObservePlacement("conflict")
	return matrix.Tree{}, 0, apperrors.Conflictf("placement for %s lost %d seat races: %v", userID, maxPlacementRetries, lastErr)
}

// loadOrCreateTree fetches the referrer's slot-1 tree, creating it on the
// referrer's first downline join. A creation race falls back to the tree the
// winner wrote.
func (s *Service) loadOrCreateTree(ctx context.Context, referrerID string) (matrix.Tree, error) {
	tree, err := s.trees.GetTree(ctx, referrerID, 1)
	if err == nil {
		return tree, nil
	}
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		return matrix.Tree{}, err
	}
	created, err := s.trees.CreateTree(ctx, matrix.NewTree(referrerID, 1))
	if err == nil {
		return created, nil
	}
	if apperrors.IsKind(err, apperrors.KindConflict) {
		return s.trees.GetTree(ctx, referrerID, 1)
	}
	return matrix.Tree{}, err
}

// ensureNotJoined rejects a second slot-1 activation for the same member.
func (s *Service) ensureNotJoined(ctx context.Context, userID string) error {
	acts, err := s.activations.ListActivations(ctx, userID)
	if err != nil {
		return err
	}
	for _, act := range acts {
		if act.SlotNumber == 1 && act.Status == activation.StatusCompleted {
			return apperrors.Statef("member %s already joined", userID)
		}
	}
	return nil
}
