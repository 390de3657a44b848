package upgrade

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/activation"
	domaincommission "github.com/TriMatrix-Network/matrix_layer/internal/app/domain/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/matrix"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage/memory"
	"github.com/TriMatrix-Network/matrix_layer/internal/config"
)

// middleSeatIndexes are the flat breadth-first indexes of the three middle
// level-2 seats.
var middleSeatIndexes = []int{6, 7, 8}

func seedActivation(t *testing.T, store *memory.Store, ownerID string, slot int) {
	t.Helper()
	_, err := store.CreateActivation(context.Background(), activation.Activation{
		OwnerID:    ownerID,
		SlotNumber: slot,
		Type:       activation.TypeInitial,
		Amount:     11,
		Status:     activation.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("seed activation: %v", err)
	}
}

func seedPaidCommission(t *testing.T, store *memory.Store, payeeID, sourceID string, amount float64) {
	t.Helper()
	_, err := store.CreateCommission(context.Background(), domaincommission.Commission{
		SourceUserID:   sourceID,
		PayeeID:        payeeID,
		Amount:         amount,
		Percentage:     10,
		Type:           domaincommission.TypeJoining,
		Status:         domaincommission.StatusPaid,
		ReasonCode:     "joining_commission",
		IdempotencyKey: "joining:" + sourceID,
	})
	if err != nil {
		t.Fatalf("seed commission: %v", err)
	}
}

func TestService_EvaluateAutoUpgrade(t *testing.T) {
	store := memory.New()
	plan := config.Default().Matrix
	svc := New(store, store, store, plan, nil)

	seedActivation(t, store, "owner", 1)

	tree := matrix.NewTree("owner", 1)
	middle := []string{"m1", "m2", "m3"}
	for i, idx := range middleSeatIndexes {
		if err := tree.Occupy(idx, middle[i], time.Now()); err != nil {
			t.Fatalf("occupy middle seat: %v", err)
		}
	}
	if _, err := store.CreateTree(context.Background(), tree); err != nil {
		t.Fatalf("create tree: %v", err)
	}

	seedPaidCommission(t, store, "owner", "m1", 20)
	seedPaidCommission(t, store, "owner", "m2", 10)
	seedPaidCommission(t, store, "owner", "m3", 5)
	// Earnings from outside the middle seats never count.
	seedPaidCommission(t, store, "owner", "outsider", 100)

	eval, err := svc.Evaluate(context.Background(), "owner")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !eval.Eligible || !eval.Upgraded {
		t.Fatalf("expected executed upgrade, got %+v", eval)
	}
	if eval.MiddleEarnings != 35 {
		t.Fatalf("middle earnings %v, want 35", eval.MiddleEarnings)
	}
	if eval.NextSlot != 2 || eval.NextSlotCost != 33 {
		t.Fatalf("unexpected ladder data: %+v", eval)
	}

	if _, err := store.GetTree(context.Background(), "owner", 2); err != nil {
		t.Fatalf("slot 2 tree not created: %v", err)
	}
	slot, err := svc.CurrentSlot(context.Background(), "owner")
	if err != nil {
		t.Fatalf("current slot: %v", err)
	}
	if slot != 2 {
		t.Fatalf("current slot %d, want 2", slot)
	}

	marked, err := store.GetTree(context.Background(), "owner", 1)
	if err != nil {
		t.Fatalf("get slot 1 tree: %v", err)
	}
	if !marked.AutoUpgraded {
		t.Fatal("slot 1 tree not marked auto-upgraded")
	}

	// A second pass must not fire again: the member is now at slot 2 with an
	// empty tree.
	again, err := svc.Evaluate(context.Background(), "owner")
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if again.Upgraded || again.Eligible {
		t.Fatalf("second evaluation upgraded again: %+v", again)
	}
}

func TestService_EvaluateInsufficientEarnings(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, config.Default().Matrix, nil)

	seedActivation(t, store, "owner", 1)

	tree := matrix.NewTree("owner", 1)
	for i, idx := range middleSeatIndexes {
		if err := tree.Occupy(idx, []string{"m1", "m2", "m3"}[i], time.Now()); err != nil {
			t.Fatalf("occupy middle seat: %v", err)
		}
	}
	if _, err := store.CreateTree(context.Background(), tree); err != nil {
		t.Fatalf("create tree: %v", err)
	}
	seedPaidCommission(t, store, "owner", "m1", 10)

	eval, err := svc.Evaluate(context.Background(), "owner")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Eligible || eval.Upgraded {
		t.Fatalf("unexpected eligibility: %+v", eval)
	}
	if eval.MiddleEarnings != 10 {
		t.Fatalf("middle earnings %v, want 10", eval.MiddleEarnings)
	}

	// All three middle seats are filled, so the tree is flagged ready even
	// though the earnings do not cover the next slot yet.
	flagged, err := store.GetTree(context.Background(), "owner", 1)
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}
	if !flagged.AutoUpgradeReady {
		t.Fatal("tree not flagged auto-upgrade-ready")
	}
}

func TestService_EvaluateTopSlot(t *testing.T) {
	store := memory.New()
	plan := config.Default().Matrix
	svc := New(store, store, store, plan, nil)

	seedActivation(t, store, "owner", plan.MaxSlot())

	eval, err := svc.Evaluate(context.Background(), "owner")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Eligible || eval.NextSlot != 0 {
		t.Fatalf("top slot must not be eligible: %+v", eval)
	}
}

func TestService_EvaluateNoFundedSlot(t *testing.T) {
	svc := New(memory.New(), memory.New(), memory.New(), config.Default().Matrix, nil)
	if _, err := svc.Evaluate(context.Background(), "ghost"); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_Upgrade(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, config.Default().Matrix, nil)

	seedActivation(t, store, "user", 1)

	result, err := svc.Upgrade(context.Background(), "user", 1, 2, 33, "tx-77")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if result.FromSlot != 1 || result.ToSlot != 2 || result.Amount != 33 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := store.GetTree(context.Background(), "user", 2); err != nil {
		t.Fatalf("slot 2 tree not created: %v", err)
	}
	slot, err := svc.CurrentSlot(context.Background(), "user")
	if err != nil {
		t.Fatalf("current slot: %v", err)
	}
	if slot != 2 {
		t.Fatalf("current slot %d, want 2", slot)
	}

	acts, err := store.ListActivations(context.Background(), "user")
	if err != nil {
		t.Fatalf("list activations: %v", err)
	}
	var found bool
	for _, act := range acts {
		if act.SlotNumber == 2 && act.Type == activation.TypeUpgrade && act.TxReference == "tx-77" {
			found = true
		}
	}
	if !found {
		t.Fatalf("upgrade activation not recorded: %+v", acts)
	}
}

func TestService_UpgradeValidation(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, config.Default().Matrix, nil)

	seedActivation(t, store, "user", 1)

	if _, err := svc.Upgrade(context.Background(), "user", 2, 1, 11, ""); !apperrors.IsKind(err, apperrors.KindState) {
		t.Fatalf("downgrade: expected state error, got %v", err)
	}
	if _, err := svc.Upgrade(context.Background(), "user", 1, 3, 99, ""); !apperrors.IsKind(err, apperrors.KindState) {
		t.Fatalf("ladder skip: expected state error, got %v", err)
	}
	if _, err := svc.Upgrade(context.Background(), "user", 1, 2, 30, ""); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("wrong amount: expected validation error, got %v", err)
	}
	if _, err := svc.Upgrade(context.Background(), "user", 2, 3, 99, ""); !apperrors.IsKind(err, apperrors.KindState) {
		t.Fatalf("wrong current slot: expected state error, got %v", err)
	}
}
