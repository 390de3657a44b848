package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/activation"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/matrix"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/domain/member"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"
)

// Store implements the storage interfaces backed by PostgreSQL. Trees are
// stored as one row per owner and slot with the node list in a JSONB column;
// every tree write is conditional on the version the caller read.
type Store struct {
	db *sql.DB
}

var _ storage.MemberStore = (*Store)(nil)
var _ storage.TreeStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)
var _ storage.ActivationStore = (*Store)(nil)
var _ storage.CommissionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- MemberStore ------------------------------------------------------------

func (s *Store) CreateMember(ctx context.Context, m member.Member) (member.Member, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.ReferralCode = strings.TrimSpace(m.ReferralCode)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_members (id, display_name, referral_code, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.DisplayName, m.ReferralCode, nullString(m.ReferrerID), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return member.Member{}, err
	}
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, id string) (member.Member, error) {
	return s.scanMember(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, referral_code, referrer_id, created_at, updated_at
		FROM matrix_members
		WHERE id = $1
	`, id), fmt.Sprintf("member %s", id))
}

func (s *Store) GetMemberByReferralCode(ctx context.Context, code string) (member.Member, error) {
	return s.scanMember(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, referral_code, referrer_id, created_at, updated_at
		FROM matrix_members
		WHERE lower(referral_code) = lower($1)
	`, strings.TrimSpace(code)), fmt.Sprintf("member with referral code %s", code))
}

func (s *Store) scanMember(row *sql.Row, what string) (member.Member, error) {
	var (
		m        member.Member
		referrer sql.NullString
	)
	if err := row.Scan(&m.ID, &m.DisplayName, &m.ReferralCode, &referrer, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return member.Member{}, apperrors.NotFoundf("%s not found", what)
		}
		return member.Member{}, err
	}
	if referrer.Valid {
		m.ReferrerID = referrer.String
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]member.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, referral_code, referrer_id, created_at, updated_at
		FROM matrix_members
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []member.Member
	for rows.Next() {
		var (
			m        member.Member
			referrer sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.ReferralCode, &referrer, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if referrer.Valid {
			m.ReferrerID = referrer.String
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// --- TreeStore --------------------------------------------------------------

func (s *Store) CreateTree(ctx context.Context, t matrix.Tree) (matrix.Tree, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

	nodesJSON, err := json.Marshal(t.Nodes)
	if err != nil {
		return matrix.Tree{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matrix_trees (id, owner_id, slot_number, nodes, total_members, is_complete, auto_upgrade_ready, auto_upgraded, recycle_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.OwnerID, t.SlotNumber, nodesJSON, t.TotalMembers, t.IsComplete, t.AutoUpgradeReady, t.AutoUpgraded, t.RecycleCount, t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return matrix.Tree{}, apperrors.Conflictf("tree for owner %s slot %d already exists", t.OwnerID, t.SlotNumber)
		}
		return matrix.Tree{}, err
	}
	return t, nil
}

const treeColumns = `id, owner_id, slot_number, nodes, total_members, is_complete, auto_upgrade_ready, auto_upgraded, recycle_count, version, created_at, updated_at`

func (s *Store) GetTree(ctx context.Context, ownerID string, slot int) (matrix.Tree, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+treeColumns+`
		FROM matrix_trees
		WHERE owner_id = $1 AND slot_number = $2
	`, ownerID, slot)
	t, err := scanTree(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return matrix.Tree{}, apperrors.NotFoundf("tree for owner %s slot %d not found", ownerID, slot)
	}
	return t, err
}

func (s *Store) UpdateTree(ctx context.Context, t matrix.Tree) (matrix.Tree, error) {
	nodesJSON, err := json.Marshal(t.Nodes)
	if err != nil {
		return matrix.Tree{}, err
	}
	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE matrix_trees
		SET nodes = $3, total_members = $4, is_complete = $5, auto_upgrade_ready = $6, auto_upgraded = $7, recycle_count = $8, version = version + 1, updated_at = $9
		WHERE owner_id = $1 AND slot_number = $2 AND version = $10
	`, t.OwnerID, t.SlotNumber, nodesJSON, t.TotalMembers, t.IsComplete, t.AutoUpgradeReady, t.AutoUpgraded, t.RecycleCount, t.UpdatedAt, t.Version)
	if err != nil {
		return matrix.Tree{}, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a lost race from a missing tree.
		if _, err := s.GetTree(ctx, t.OwnerID, t.SlotNumber); err != nil {
			return matrix.Tree{}, err
		}
		return matrix.Tree{}, apperrors.Conflictf("tree for owner %s slot %d moved from version %d", t.OwnerID, t.SlotNumber, t.Version)
	}
	t.Version++
	return t, nil
}

func (s *Store) ListTrees(ctx context.Context, ownerID string) ([]matrix.Tree, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+treeColumns+`
		FROM matrix_trees
		WHERE $1 = '' OR owner_id = $1
		ORDER BY slot_number
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []matrix.Tree
	for rows.Next() {
		t, err := scanTree(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) FindTreeBySlotOccupant(ctx context.Context, slot int, userID string) (matrix.Tree, error) {
	occupant, err := json.Marshal([]map[string]string{{"occupant_id": userID}})
	if err != nil {
		return matrix.Tree{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+treeColumns+`
		FROM matrix_trees
		WHERE slot_number = $1 AND nodes @> $2::jsonb
		LIMIT 1
	`, slot, occupant)
	t, err := scanTree(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return matrix.Tree{}, apperrors.NotFoundf("no slot %d tree contains user %s", slot, userID)
	}
	return t, err
}

func (s *Store) ArchiveAndReset(ctx context.Context, snap matrix.Snapshot, reset matrix.Tree) (matrix.Snapshot, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return matrix.Snapshot{}, false, err
	}
	defer tx.Rollback()

	// Replayed completion returns the stored snapshot without touching the
	// live tree.
	existing, err := scanSnapshotRow(tx.QueryRowContext(ctx, `
		SELECT id, owner_id, slot_number, sequence_number, nodes, tree_created_at, completed_at, created_at
		FROM matrix_recycle_snapshots
		WHERE owner_id = $1 AND slot_number = $2 AND sequence_number = $3
	`, snap.OwnerID, snap.SlotNumber, snap.SequenceNumber))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return matrix.Snapshot{}, false, err
	}

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.CreatedAt = time.Now().UTC()

	nodesJSON, err := json.Marshal(snap.Nodes)
	if err != nil {
		return matrix.Snapshot{}, false, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO matrix_recycle_snapshots (id, owner_id, slot_number, sequence_number, nodes, tree_created_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, snap.ID, snap.OwnerID, snap.SlotNumber, snap.SequenceNumber, nodesJSON, snap.TreeCreatedAt, snap.CompletedAt, snap.CreatedAt)
	if err != nil {
		return matrix.Snapshot{}, false, err
	}

	resetJSON, err := json.Marshal(reset.Nodes)
	if err != nil {
		return matrix.Snapshot{}, false, err
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE matrix_trees
		SET nodes = $3, total_members = $4, is_complete = $5, auto_upgrade_ready = $6, auto_upgraded = $7, recycle_count = $8, version = version + 1, updated_at = $9
		WHERE owner_id = $1 AND slot_number = $2 AND version = $10
	`, reset.OwnerID, reset.SlotNumber, resetJSON, reset.TotalMembers, reset.IsComplete, reset.AutoUpgradeReady, reset.AutoUpgraded, reset.RecycleCount, snap.CreatedAt, reset.Version)
	if err != nil {
		return matrix.Snapshot{}, false, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return matrix.Snapshot{}, false, apperrors.Conflictf("tree for owner %s slot %d moved from version %d", reset.OwnerID, reset.SlotNumber, reset.Version)
	}

	if err := tx.Commit(); err != nil {
		return matrix.Snapshot{}, false, err
	}
	return snap, true, nil
}

// --- SnapshotStore ----------------------------------------------------------

func (s *Store) GetSnapshot(ctx context.Context, ownerID string, slot, sequence int) (matrix.Snapshot, error) {
	snap, err := scanSnapshotRow(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, slot_number, sequence_number, nodes, tree_created_at, completed_at, created_at
		FROM matrix_recycle_snapshots
		WHERE owner_id = $1 AND slot_number = $2 AND sequence_number = $3
	`, ownerID, slot, sequence))
	if errors.Is(err, sql.ErrNoRows) {
		return matrix.Snapshot{}, apperrors.NotFoundf("snapshot %d for owner %s slot %d not found", sequence, ownerID, slot)
	}
	return snap, err
}

func (s *Store) ListSnapshots(ctx context.Context, ownerID string, slot int) ([]matrix.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, slot_number, sequence_number, nodes, tree_created_at, completed_at, created_at
		FROM matrix_recycle_snapshots
		WHERE owner_id = $1 AND slot_number = $2
		ORDER BY sequence_number
	`, ownerID, slot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []matrix.Snapshot
	for rows.Next() {
		var (
			snap     matrix.Snapshot
			nodesRaw []byte
		)
		if err := rows.Scan(&snap.ID, &snap.OwnerID, &snap.SlotNumber, &snap.SequenceNumber, &nodesRaw, &snap.TreeCreatedAt, &snap.CompletedAt, &snap.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(nodesRaw, &snap.Nodes); err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

// --- ActivationStore --------------------------------------------------------

func (s *Store) CreateActivation(ctx context.Context, act activation.Activation) (activation.Activation, error) {
	if act.ID == "" {
		act.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	act.CreatedAt = now
	act.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_activations (id, owner_id, slot_number, type, amount, tx_reference, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, act.ID, act.OwnerID, act.SlotNumber, act.Type, act.Amount, act.TxReference, act.Status, act.CreatedAt, act.UpdatedAt)
	if err != nil {
		return activation.Activation{}, err
	}
	return act, nil
}

func (s *Store) ListActivations(ctx context.Context, ownerID string) ([]activation.Activation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, slot_number, type, amount, tx_reference, status, created_at, updated_at
		FROM matrix_activations
		WHERE owner_id = $1
		ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []activation.Activation
	for rows.Next() {
		var act activation.Activation
		if err := rows.Scan(&act.ID, &act.OwnerID, &act.SlotNumber, &act.Type, &act.Amount, &act.TxReference, &act.Status, &act.CreatedAt, &act.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, act)
	}
	return result, rows.Err()
}

// --- CommissionStore --------------------------------------------------------

func (s *Store) CreateCommission(ctx context.Context, c commission.Commission) (commission.Commission, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_commissions (id, source_user_id, payee_id, amount, percentage, type, status, reason_code, idempotency_key, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.SourceUserID, c.PayeeID, c.Amount, c.Percentage, c.Type, c.Status, c.ReasonCode, c.IdempotencyKey, toNullTime(c.PaidAt), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return commission.Commission{}, err
	}
	return c, nil
}

func (s *Store) UpdateCommission(ctx context.Context, c commission.Commission) (commission.Commission, error) {
	c.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE matrix_commissions
		SET status = $2, paid_at = $3, updated_at = $4
		WHERE id = $1
	`, c.ID, c.Status, toNullTime(c.PaidAt), c.UpdatedAt)
	if err != nil {
		return commission.Commission{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return commission.Commission{}, apperrors.NotFoundf("commission %s not found", c.ID)
	}
	return c, nil
}

const commissionColumns = `id, source_user_id, payee_id, amount, percentage, type, status, reason_code, idempotency_key, paid_at, created_at, updated_at`

func (s *Store) GetCommission(ctx context.Context, id string) (commission.Commission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commissionColumns+`
		FROM matrix_commissions
		WHERE id = $1
	`, id)
	c, err := scanCommission(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Commission{}, apperrors.NotFoundf("commission %s not found", id)
	}
	return c, err
}

func (s *Store) ListCommissionsByPayee(ctx context.Context, payeeID string) ([]commission.Commission, error) {
	return s.listCommissions(ctx, `
		SELECT `+commissionColumns+`
		FROM matrix_commissions
		WHERE payee_id = $1
		ORDER BY created_at
	`, payeeID)
}

func (s *Store) ListFailedCommissions(ctx context.Context) ([]commission.Commission, error) {
	return s.listCommissions(ctx, `
		SELECT `+commissionColumns+`
		FROM matrix_commissions
		WHERE status = 'failed'
		ORDER BY created_at
	`)
}

func (s *Store) listCommissions(ctx context.Context, query string, args ...interface{}) ([]commission.Commission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []commission.Commission
	for rows.Next() {
		c, err := scanCommission(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) CreateMentorLink(ctx context.Context, link commission.MentorLink) (commission.MentorLink, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt = time.Now().UTC()

	// The relationship is recorded once per new user; conflicts return the
	// stored row.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_mentor_links (id, referrer_id, new_user_id, super_upline_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (new_user_id) DO NOTHING
	`, link.ID, link.ReferrerID, link.NewUserID, link.SuperUpline, link.CreatedAt)
	if err != nil {
		return commission.MentorLink{}, err
	}
	return s.GetMentorLink(ctx, link.NewUserID)
}

func (s *Store) GetMentorLink(ctx context.Context, newUserID string) (commission.MentorLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, referrer_id, new_user_id, super_upline_id, created_at
		FROM matrix_mentor_links
		WHERE new_user_id = $1
	`, newUserID)

	var link commission.MentorLink
	if err := row.Scan(&link.ID, &link.ReferrerID, &link.NewUserID, &link.SuperUpline, &link.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return commission.MentorLink{}, apperrors.NotFoundf("mentor link for user %s not found", newUserID)
		}
		return commission.MentorLink{}, err
	}
	return link, nil
}

// --- helpers ----------------------------------------------------------------

func scanTree(scan func(...interface{}) error) (matrix.Tree, error) {
	var (
		t        matrix.Tree
		nodesRaw []byte
	)
	if err := scan(&t.ID, &t.OwnerID, &t.SlotNumber, &nodesRaw, &t.TotalMembers, &t.IsComplete, &t.AutoUpgradeReady, &t.AutoUpgraded, &t.RecycleCount, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return matrix.Tree{}, err
	}
	if err := json.Unmarshal(nodesRaw, &t.Nodes); err != nil {
		return matrix.Tree{}, err
	}
	return t, nil
}

func scanSnapshotRow(row *sql.Row) (matrix.Snapshot, error) {
	var (
		snap     matrix.Snapshot
		nodesRaw []byte
	)
	if err := row.Scan(&snap.ID, &snap.OwnerID, &snap.SlotNumber, &snap.SequenceNumber, &nodesRaw, &snap.TreeCreatedAt, &snap.CompletedAt, &snap.CreatedAt); err != nil {
		return matrix.Snapshot{}, err
	}
	if err := json.Unmarshal(nodesRaw, &snap.Nodes); err != nil {
		return matrix.Snapshot{}, err
	}
	return snap, nil
}

func scanCommission(scan func(...interface{}) error) (commission.Commission, error) {
	var (
		c      commission.Commission
		paidAt sql.NullTime
	)
	if err := scan(&c.ID, &c.SourceUserID, &c.PayeeID, &c.Amount, &c.Percentage, &c.Type, &c.Status, &c.ReasonCode, &c.IdempotencyKey, &paidAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return commission.Commission{}, err
	}
	if paidAt.Valid {
		c.PaidAt = paidAt.Time.UTC()
	}
	return c, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
