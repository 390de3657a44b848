package commission

import (
	"context"
	"math"
	"testing"
	"time"

	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"

	domain "github.com/TriMatrix-Network/matrix_layer/internal/app/domain/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/matrix"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/member"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/services/ledger"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage/memory"
	"github.com/TriMatrix-Network/matrix_layer/internal/config"
)

func seedMember(t *testing.T, store *memory.Store, name, referrerID string) member.Member {
	t.Helper()
	m, err := store.CreateMember(context.Background(), member.Member{
		DisplayName:  name,
		ReferralCode: name + "-code",
		ReferrerID:   referrerID,
	})
	if err != nil {
		t.Fatalf("seed member %s: %v", name, err)
	}
	return m
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestService_OnJoin(t *testing.T) {
	store := memory.New()
	recorder := ledger.NewRecorder()
	plan := config.Default().Matrix
	svc := New(store, store, store, recorder, plan, nil)

	super := seedMember(t, store, "super", "")
	referrer := seedMember(t, store, "referrer", super.ID)
	user := seedMember(t, store, "user", referrer.ID)

	failed := svc.OnJoin(context.Background(), user.ID, referrer.ID, 11)
	if len(failed) != 0 {
		t.Fatalf("unexpected failed steps: %v", failed)
	}

	if !almost(recorder.CreditedTo(referrer.ID), 1.1) {
		t.Fatalf("referrer credited %v, want 1.1", recorder.CreditedTo(referrer.ID))
	}
	if !almost(recorder.CreditedTo(super.ID), 0.55) {
		t.Fatalf("super upline credited %v, want 0.55", recorder.CreditedTo(super.ID))
	}

	link, err := store.GetMentorLink(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("get mentor link: %v", err)
	}
	if link.SuperUpline != super.ID {
		t.Fatalf("super upline %s, want %s", link.SuperUpline, super.ID)
	}

	records, err := store.ListCommissionsByPayee(context.Background(), referrer.ID)
	if err != nil {
		t.Fatalf("list commissions: %v", err)
	}
	if len(records) != 1 || records[0].Status != domain.StatusPaid || records[0].Type != domain.TypeJoining {
		t.Fatalf("unexpected joining record: %+v", records)
	}
	if records[0].PaidAt.IsZero() {
		t.Fatal("paid_at not set")
	}
}

func TestService_OnJoinNoSuperUpline(t *testing.T) {
	store := memory.New()
	recorder := ledger.NewRecorder()
	svc := New(store, store, store, recorder, config.Default().Matrix, nil)

	referrer := seedMember(t, store, "referrer", "")
	user := seedMember(t, store, "user", referrer.ID)

	if failed := svc.OnJoin(context.Background(), user.ID, referrer.ID, 11); len(failed) != 0 {
		t.Fatalf("unexpected failed steps: %v", failed)
	}
	if got := len(recorder.Intents()); got != 1 {
		t.Fatalf("expected only the joining credit, got %d", got)
	}
}

func TestService_OnJoinLedgerFailureAndRetry(t *testing.T) {
	store := memory.New()
	recorder := ledger.NewRecorder()
	recorder.RejectKeys = map[string]bool{"joining:user-1": true}
	svc := New(store, store, store, recorder, config.Default().Matrix, nil)

	referrer := seedMember(t, store, "referrer", "")
	user, err := store.CreateMember(context.Background(), member.Member{
		ID:           "user-1",
		DisplayName:  "user",
		ReferralCode: "user-code",
		ReferrerID:   referrer.ID,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	failed := svc.OnJoin(context.Background(), user.ID, referrer.ID, 11)
	if len(failed) != 1 || failed[0] != StepJoiningCommission {
		t.Fatalf("failed steps %v, want [%s]", failed, StepJoiningCommission)
	}

	stuck, err := store.ListFailedCommissions(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(stuck) != 1 {
		t.Fatalf("expected 1 failed commission, got %d", len(stuck))
	}

	// Retrying a non-failed record is rejected.
	paid := stuck[0]
	paid.Status = domain.StatusPaid
	if _, err := svc.Retry(context.Background(), paid); !apperrors.IsKind(err, apperrors.KindState) {
		t.Fatalf("expected state error, got %v", err)
	}

	recorder.RejectKeys = nil
	settled, err := svc.Retry(context.Background(), stuck[0])
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if settled.Status != domain.StatusPaid {
		t.Fatalf("status %s after retry, want paid", settled.Status)
	}
	if settled.IdempotencyKey != "joining:user-1" {
		t.Fatalf("retry changed idempotency key: %q", settled.IdempotencyKey)
	}
	if !almost(recorder.CreditedTo(referrer.ID), 1.1) {
		t.Fatalf("referrer credited %v after retry, want 1.1", recorder.CreditedTo(referrer.ID))
	}
}

func TestService_OnUpgrade(t *testing.T) {
	store := memory.New()
	recorder := ledger.NewRecorder()
	svc := New(store, store, store, recorder, config.Default().Matrix, nil)

	super := seedMember(t, store, "super", "")
	upline := seedMember(t, store, "upline", super.ID)
	user := seedMember(t, store, "user", upline.ID)

	tree := matrix.NewTree(upline.ID, 1)
	if err := tree.Occupy(0, user.ID, time.Now()); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	if _, err := store.CreateTree(context.Background(), tree); err != nil {
		t.Fatalf("create tree: %v", err)
	}
	if _, err := store.CreateMentorLink(context.Background(), domain.MentorLink{
		ReferrerID:  upline.ID,
		NewUserID:   user.ID,
		SuperUpline: super.ID,
	}); err != nil {
		t.Fatalf("create mentor link: %v", err)
	}

	failed := svc.OnUpgrade(context.Background(), user.ID, 1, 2, 33)
	if len(failed) != 0 {
		t.Fatalf("unexpected failed steps: %v", failed)
	}
	if !almost(recorder.CreditedTo(upline.ID), 3.3) {
		t.Fatalf("upline credited %v, want 3.3", recorder.CreditedTo(upline.ID))
	}
	if !almost(recorder.CreditedTo(super.ID), 1.65) {
		t.Fatalf("super upline credited %v, want 1.65", recorder.CreditedTo(super.ID))
	}
}

func TestService_OnUpgradeNoSeatedUpline(t *testing.T) {
	store := memory.New()
	recorder := ledger.NewRecorder()
	svc := New(store, store, store, recorder, config.Default().Matrix, nil)

	user := seedMember(t, store, "user", "")

	if failed := svc.OnUpgrade(context.Background(), user.ID, 1, 2, 33); len(failed) != 0 {
		t.Fatalf("unexpected failed steps: %v", failed)
	}
	if got := len(recorder.Intents()); got != 0 {
		t.Fatalf("expected no credits, got %d", got)
	}
}

func TestRetryPoller_SettlesFailedCommissions(t *testing.T) {
	store := memory.New()
	recorder := ledger.NewRecorder()
	svc := New(store, store, store, recorder, config.Default().Matrix, nil)

	created, err := store.CreateCommission(context.Background(), domain.Commission{
		SourceUserID:   "user",
		PayeeID:        "payee",
		Amount:         1.1,
		Percentage:     10,
		Type:           domain.TypeJoining,
		Status:         domain.StatusFailed,
		ReasonCode:     "joining_commission",
		IdempotencyKey: "joining:user",
	})
	if err != nil {
		t.Fatalf("create commission: %v", err)
	}

	poller := NewRetryPoller(store, svc, 10*time.Millisecond, nil)
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("start poller: %v", err)
	}
	defer poller.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		settled, err := store.GetCommission(context.Background(), created.ID)
		if err != nil {
			t.Fatalf("get commission: %v", err)
		}
		if settled.Status == domain.StatusPaid {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("commission not settled, status %s", settled.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !almost(recorder.CreditedTo("payee"), 1.1) {
		t.Fatalf("payee credited %v, want 1.1", recorder.CreditedTo("payee"))
	}
}
