// Package recycle archives completed trees and restarts the cycle. The
// snapshot write and the live-tree reset happen in one store-level step, so
// a crash can never leave a completed tree both archived and live.
package recycle

import (
	"context"
	"time"

	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/matrix"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/metrics"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

// Service archives completed trees.
type Service struct {
	trees     storage.TreeStore
	snapshots storage.SnapshotStore
	log       *logger.Logger
}

// New constructs a recycle service.
func New(trees storage.TreeStore, snapshots storage.SnapshotStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("recycle")
	}
	return &Service{trees: trees, snapshots: snapshots, log: log}
}

// Result describes one recycle outcome.
type Result struct {
	SequenceNumber  int
	SnapshotCreated bool
}

// Recycle archives the completed tree for owner and slot, then restarts the
// cycle with the owner re-entered at the first level-1 seat. Replaying the
// same completed cycle returns the stored snapshot without touching the
// live tree.
func (s *Service) Recycle(ctx context.Context, ownerID string, slot int) (Result, error) {
	tree, err := s.trees.GetTree(ctx, ownerID, slot)
	if err != nil {
		return Result{}, err
	}
	if !tree.IsComplete {
		return Result{}, apperrors.Statef("tree %s/%d has %d members, cannot recycle before %d", ownerID, slot, tree.TotalMembers, matrix.TreeCapacity)
	}

	now := time.Now().UTC()
	snap := matrix.Snapshot{
		OwnerID:        ownerID,
		SlotNumber:     slot,
		SequenceNumber: tree.RecycleCount + 1,
		Nodes:          tree.CloneNodes(),
		TreeCreatedAt:  tree.CreatedAt,
		CompletedAt:    now,
	}

	reset := matrix.NewTree(ownerID, slot)
	reset.ID = tree.ID
	reset.RecycleCount = tree.RecycleCount + 1
	reset.Version = tree.Version
	reset.CreatedAt = tree.CreatedAt
	if err := reset.Occupy(0, ownerID, now); err != nil {
		return Result{}, err
	}

	stored, created, err := s.trees.ArchiveAndReset(ctx, snap, reset)
	if err != nil {
		return Result{}, err
	}
	if created {
		metrics.ObserveRecycle()
		s.log.WithField("owner_id", ownerID).
			WithField("slot", slot).
			WithField("sequence", stored.SequenceNumber).
			Info("tree recycled")
	}
	return Result{SequenceNumber: stored.SequenceNumber, SnapshotCreated: created}, nil
}

// History returns the archived cycles for owner and slot, oldest first.
func (s *Service) History(ctx context.Context, ownerID string, slot int) ([]matrix.Snapshot, error) {
	return s.snapshots.ListSnapshots(ctx, ownerID, slot)
}

// Cycle returns one archived cycle by sequence number.
func (s *Service) Cycle(ctx context.Context, ownerID string, slot, sequence int) (matrix.Snapshot, error) {
	return s.snapshots.GetSnapshot(ctx, ownerID, slot, sequence)
}
