// Package hooks runs the best-effort side effects that follow a successful
// placement or upgrade. Hook failures are logged, counted and reported back
// to the caller; they never roll back the seat that was already written.
package hooks

import (
	"context"
	"fmt"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/metrics"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

// Hook step names, in the fixed order they run after a join.
const (
	StepRankUpdate      = "rank_update"
	StepGlobalIntegrate = "global_integrate"
	StepJackpotAward    = "jackpot_award"
	StepNewcomerCheck   = "newcomer_check"
	StepMentorshipTrack = "mentorship_track"
)

// Hooks are the optional callbacks into surrounding platform systems. A nil
// hook is skipped.
type Hooks struct {
	RankUpdate      func(ctx context.Context, userID string) error
	GlobalIntegrate func(ctx context.Context, userID string) error
	JackpotAward    func(ctx context.Context, userID string, slot int) error
	NewcomerCheck   func(ctx context.Context, userID string) error
	MentorshipTrack func(ctx context.Context, referrerID, newUserID string) error
}

// Notifier fans a completed engine event out to the registered hooks.
type Notifier struct {
	hooks Hooks
	log   *logger.Logger
}

// New constructs a notifier. All hooks may be nil.
func New(hooks Hooks, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewDefault("hooks")
	}
	return &Notifier{hooks: hooks, log: log}
}

// AfterJoin runs every hook in the fixed order and returns the names of the
// steps that failed. Later hooks still run after an earlier failure.
func (n *Notifier) AfterJoin(ctx context.Context, newUserID, referrerID string, slot int) []string {
	var failed []string
	if n.hooks.RankUpdate != nil {
		failed = n.run(ctx, failed, StepRankUpdate, func(ctx context.Context) error {
			return n.hooks.RankUpdate(ctx, referrerID)
		})
	}
	if n.hooks.GlobalIntegrate != nil {
		failed = n.run(ctx, failed, StepGlobalIntegrate, func(ctx context.Context) error {
			return n.hooks.GlobalIntegrate(ctx, newUserID)
		})
	}
	if n.hooks.JackpotAward != nil {
		failed = n.run(ctx, failed, StepJackpotAward, func(ctx context.Context) error {
			return n.hooks.JackpotAward(ctx, newUserID, slot)
		})
	}
	if n.hooks.NewcomerCheck != nil {
		failed = n.run(ctx, failed, StepNewcomerCheck, func(ctx context.Context) error {
			return n.hooks.NewcomerCheck(ctx, newUserID)
		})
	}
	if n.hooks.MentorshipTrack != nil {
		failed = n.run(ctx, failed, StepMentorshipTrack, func(ctx context.Context) error {
			return n.hooks.MentorshipTrack(ctx, referrerID, newUserID)
		})
	}
	return failed
}

// AfterUpgrade notifies the rank and jackpot systems about a slot upgrade.
func (n *Notifier) AfterUpgrade(ctx context.Context, userID string, slot int) []string {
	var failed []string
	if n.hooks.RankUpdate != nil {
		failed = n.run(ctx, failed, StepRankUpdate, func(ctx context.Context) error {
			return n.hooks.RankUpdate(ctx, userID)
		})
	}
	if n.hooks.JackpotAward != nil {
		failed = n.run(ctx, failed, StepJackpotAward, func(ctx context.Context) error {
			return n.hooks.JackpotAward(ctx, userID, slot)
		})
	}
	return failed
}

func (n *Notifier) run(ctx context.Context, failed []string, name string, fn func(ctx context.Context) error) []string {
	err := n.invoke(ctx, fn)
	if err == nil {
		return failed
	}
	metrics.ObserveHookFailure(name)
	n.log.WithError(err).Warnf("hook %s failed", name)
	return append(failed, name)
}

// invoke traps panics so a misbehaving hook cannot take down the engine.
func (n *Notifier) invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return fn(ctx)
}
