package hooks

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestNotifier_AfterJoinOrder(t *testing.T) {
	var order []string
	record := func(name string) func(context.Context, string) error {
		return func(context.Context, string) error {
			order = append(order, name)
			return nil
		}
	}

	n := New(Hooks{
		RankUpdate:      record(StepRankUpdate),
		GlobalIntegrate: record(StepGlobalIntegrate),
		JackpotAward: func(_ context.Context, _ string, _ int) error {
			order = append(order, StepJackpotAward)
			return nil
		},
		NewcomerCheck: record(StepNewcomerCheck),
		MentorshipTrack: func(_ context.Context, _, _ string) error {
			order = append(order, StepMentorshipTrack)
			return nil
		},
	}, nil)

	failed := n.AfterJoin(context.Background(), "user", "ref", 1)
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}
	want := []string{StepRankUpdate, StepGlobalIntegrate, StepJackpotAward, StepNewcomerCheck, StepMentorshipTrack}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("hook order %v, want %v", order, want)
	}
}

func TestNotifier_AfterJoinContinuesPastFailure(t *testing.T) {
	ran := map[string]bool{}
	n := New(Hooks{
		RankUpdate: func(context.Context, string) error {
			ran[StepRankUpdate] = true
			return errors.New("rank service down")
		},
		GlobalIntegrate: func(context.Context, string) error {
			ran[StepGlobalIntegrate] = true
			return nil
		},
		NewcomerCheck: func(context.Context, string) error {
			ran[StepNewcomerCheck] = true
			panic("newcomer check blew up")
		},
	}, nil)

	failed := n.AfterJoin(context.Background(), "user", "ref", 1)
	want := []string{StepRankUpdate, StepNewcomerCheck}
	if !reflect.DeepEqual(failed, want) {
		t.Fatalf("failed steps %v, want %v", failed, want)
	}
	if !ran[StepGlobalIntegrate] {
		t.Fatal("later hook did not run after earlier failure")
	}
}

func TestNotifier_NilHooksSkipped(t *testing.T) {
	n := New(Hooks{}, nil)
	if failed := n.AfterJoin(context.Background(), "user", "ref", 1); len(failed) != 0 {
		t.Fatalf("unexpected failures with no hooks: %v", failed)
	}
	if failed := n.AfterUpgrade(context.Background(), "user", 2); len(failed) != 0 {
		t.Fatalf("unexpected failures with no hooks: %v", failed)
	}
}

func TestNotifier_AfterUpgrade(t *testing.T) {
	var awardedSlot int
	n := New(Hooks{
		RankUpdate: func(context.Context, string) error { return nil },
		JackpotAward: func(_ context.Context, _ string, slot int) error {
			awardedSlot = slot
			return nil
		},
	}, nil)

	if failed := n.AfterUpgrade(context.Background(), "user", 3); len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}
	if awardedSlot != 3 {
		t.Fatalf("jackpot hook saw slot %d, want 3", awardedSlot)
	}
}
