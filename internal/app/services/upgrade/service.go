// Package upgrade moves members up the slot ladder. Automatic upgrades are
// funded by earnings attributed to the three middle level-2 seats of the
// member's current tree; at most one automatic upgrade fires per tree cycle.
package upgrade

import (
	"context"

	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/activation"
	domaincommission "github.com/TriMatrix-Network/matrix_layer/internal/app/domain/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/matrix"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/metrics"
	commissionsvc "github.com/TriMatrix-Network/matrix_layer/internal/app/services/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/services/hooks"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	"github.com/TriMatrix-Network/matrix_layer/internal/config"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

const maxConflictRetries = 3

// Service evaluates and executes slot upgrades.
type Service struct {
	trees       storage.TreeStore
	activations storage.ActivationStore
	commissions storage.CommissionStore
	plan        config.Matrix
	log         *logger.Logger

	cascade  *commissionsvc.Service
	notifier *hooks.Notifier
}

// New constructs an upgrade service.
func New(trees storage.TreeStore, activations storage.ActivationStore, commissions storage.CommissionStore, plan config.Matrix, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("upgrade")
	}
	return &Service{
		trees:       trees,
		activations: activations,
		commissions: commissions,
		plan:        plan,
		log:         log,
	}
}

// AttachDependencies wires the cascade and hook fan-out run after an
// executed upgrade.
func (s *Service) AttachDependencies(cascade *commissionsvc.Service, notifier *hooks.Notifier) {
	s.cascade = cascade
	s.notifier = notifier
}

// Evaluation reports the auto-upgrade decision for one member.
type Evaluation struct {
	CurrentSlot    int
	NextSlot       int
	NextSlotCost   float64
	MiddleEarnings float64
	Eligible       bool
	Upgraded       bool
	FailedSteps    []string
}

// Result describes an executed upgrade.
type Result struct {
	FromSlot    int
	ToSlot      int
	Amount      float64
	FailedSteps []string
}

// Evaluate checks whether the member's middle-seat earnings cover the next
// slot and, when they do, executes the upgrade immediately. A tree that
// already auto-upgraded this cycle is skipped until it recycles.
func (s *Service) Evaluate(ctx context.Context, ownerID string) (Evaluation, error) {
	slot, err := s.CurrentSlot(ctx, ownerID)
	if err != nil {
		return Evaluation{}, err
	}
	eval := Evaluation{CurrentSlot: slot}
	if slot >= s.plan.MaxSlot() {
		return eval, nil
	}
	eval.NextSlot = slot + 1
	cost, err := s.plan.SlotCost(slot + 1)
	if err != nil {
		return Evaluation{}, err
	}
	eval.NextSlotCost = cost

	tree, err := s.trees.GetTree(ctx, ownerID, slot)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return eval, nil
		}
		return Evaluation{}, err
	}
	if tree.AutoUpgraded {
		return eval, nil
	}

	middle := tree.MiddleOccupants()
	earnings, err := s.middleEarnings(ctx, ownerID, middle)
	if err != nil {
		return Evaluation{}, err
	}
	eval.MiddleEarnings = earnings
	if len(middle) == len(matrix.MiddleLevel2Positions) && !tree.AutoUpgradeReady {
		if err := s.markTree(ctx, ownerID, slot, func(t *matrix.Tree) {
			t.AutoUpgradeReady = true
		}); err != nil {
			s.log.WithError(err).Warnf("mark tree %s/%d upgrade-ready failed", ownerID, slot)
		}
	}
	if earnings < cost {
		return eval, nil
	}

	eval.Eligible = true
	result, err := s.execute(ctx, ownerID, slot, slot+1, cost, activation.TypeAuto, "")
	if err != nil {
		return eval, err
	}
	if err := s.markTree(ctx, ownerID, slot, func(t *matrix.Tree) {
		t.AutoUpgraded = true
		t.AutoUpgradeReady = false
	}); err != nil {
		s.log.WithError(err).Warnf("mark tree %s/%d auto-upgraded failed", ownerID, slot)
	}
	eval.Upgraded = true
	eval.FailedSteps = result.FailedSteps
	metrics.ObserveUpgrade("auto")
	s.log.WithField("owner_id", ownerID).
		WithField("from_slot", slot).
		WithField("to_slot", slot+1).
		Info("automatic slot upgrade executed")
	return eval, nil
}

// Upgrade executes a member-funded upgrade to the next slot on the ladder.
func (s *Service) Upgrade(ctx context.Context, userID string, fromSlot, toSlot int, amount float64, txRef string) (Result, error) {
	if toSlot <= fromSlot {
		return Result{}, apperrors.Statef("cannot upgrade from slot %d to slot %d", fromSlot, toSlot)
	}
	if toSlot != fromSlot+1 {
		return Result{}, apperrors.Statef("slots advance one at a time; %d to %d skips the ladder", fromSlot, toSlot)
	}
	cost, err := s.plan.SlotCost(toSlot)
	if err != nil {
		return Result{}, apperrors.Validationf("%v", err)
	}
	if amount != cost {
		return Result{}, apperrors.Validationf("slot %d costs %.2f, got %.2f", toSlot, cost, amount)
	}

	current, err := s.CurrentSlot(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if current != fromSlot {
		return Result{}, apperrors.Statef("member %s is at slot %d, not %d", userID, current, fromSlot)
	}

	result, err := s.execute(ctx, userID, fromSlot, toSlot, amount, activation.TypeUpgrade, txRef)
	if err != nil {
		return Result{}, err
	}
	metrics.ObserveUpgrade("manual")
	s.log.WithField("user_id", userID).
		WithField("from_slot", fromSlot).
		WithField("to_slot", toSlot).
		Info("slot upgrade executed")
	return result, nil
}

// CurrentSlot returns the member's highest funded slot.
func (s *Service) CurrentSlot(ctx context.Context, ownerID string) (int, error) {
	acts, err := s.activations.ListActivations(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	slot := 0
	for _, act := range acts {
		if act.Status == activation.StatusCompleted && act.SlotNumber > slot {
			slot = act.SlotNumber
		}
	}
	if slot == 0 {
		return 0, apperrors.NotFoundf("member %s has no funded slot", ownerID)
	}
	return slot, nil
}

// execute funds the new slot: the activation record lands first, then the
// fresh tree, then the best-effort cascade and hooks.
func (s *Service) execute(ctx context.Context, userID string, fromSlot, toSlot int, amount float64, fundingType activation.Type, txRef string) (Result, error) {
	act := activation.Activation{
		OwnerID:     userID,
		SlotNumber:  toSlot,
		Type:        fundingType,
		Amount:      amount,
		TxReference: txRef,
		Status:      activation.StatusCompleted,
	}
	if _, err := s.activations.CreateActivation(ctx, act); err != nil {
		return Result{}, err
	}
	if _, err := s.trees.CreateTree(ctx, matrix.NewTree(userID, toSlot)); err != nil {
		if !apperrors.IsKind(err, apperrors.KindConflict) {
			return Result{}, err
		}
	}

	result := Result{FromSlot: fromSlot, ToSlot: toSlot, Amount: amount}
	if s.cascade != nil {
		result.FailedSteps = append(result.FailedSteps, s.cascade.OnUpgrade(ctx, userID, fromSlot, toSlot, amount)...)
	}
	if s.notifier != nil {
		result.FailedSteps = append(result.FailedSteps, s.notifier.AfterUpgrade(ctx, userID, toSlot)...)
	}
	return result, nil
}

// middleEarnings sums paid commissions owed to the owner whose source sits
// in one of the designated middle seats.
func (s *Service) middleEarnings(ctx context.Context, ownerID string, middle []string) (float64, error) {
	if len(middle) == 0 {
		return 0, nil
	}
	sources := make(map[string]struct{}, len(middle))
	for _, id := range middle {
		sources[id] = struct{}{}
	}
	records, err := s.commissions.ListCommissionsByPayee(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, c := range records {
		if c.Status != domaincommission.StatusPaid {
			continue
		}
		if _, ok := sources[c.SourceUserID]; ok {
			total += c.Amount
		}
	}
	return total, nil
}

// markTree applies a flag change with bounded conflict retries.
func (s *Service) markTree(ctx context.Context, ownerID string, slot int, mutate func(*matrix.Tree)) error {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		tree, err := s.trees.GetTree(ctx, ownerID, slot)
		if err != nil {
			return err
		}
		mutate(&tree)
		if _, err := s.trees.UpdateTree(ctx, tree); err != nil {
			if apperrors.IsKind(err, apperrors.KindConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
