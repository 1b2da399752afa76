package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"examhub/internal/db"

	"github.com/google/uuid"
)

const invitationSelect = `
	SELECT i.id, i.group_id, g.name, i.invited_email, i.invited_by, i.status, i.created_at
	FROM group_invitations i
	JOIN teacher_groups g ON g.id = i.group_id
`

func scanInvitation(scanner interface{ Scan(dest ...any) error }) (*Invitation, error) {
	var (
		out    Invitation
		status string
	)
	if err := scanner.Scan(&out.ID, &out.GroupID, &out.GroupName, &out.InvitedEmail, &out.InvitedBy, &status, db.ScanTime(&out.CreatedAt)); err != nil {
		return nil, err
	}
	out.Status = InvitationStatus(status)
	return &out, nil
}

func (s *Service) listInvitations(ctx context.Context, where string, args ...any) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, invitationSelect+where+` ORDER BY i.created_at DESC, i.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	out := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return out, nil
}

// Invite records a pending invitation for email. Only one invitation per
// group and address may be pending at a time.
func (s *Service) Invite(ctx context.Context, actorID, groupID, email string) (*Invitation, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, s.db, groupID, actorID); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_invitations (id, group_id, invited_email, invited_by, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (group_id, invited_email) WHERE status = 'pending' DO NOTHING
	`, id, groupID, email, actorID, s.now())
	if err != nil {
		return nil, fmt.Errorf("insert invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert invitation rows: %w", err)
	}
	if n == 0 {
		return nil, ErrAlreadyInvited
	}
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, invitationSelect+` WHERE i.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("load invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations shows a group's invitations of every status to its admins.
func (s *Service) ListInvitations(ctx context.Context, actorID, groupID string) ([]Invitation, error) {
	if err := s.requireAdmin(ctx, s.db, groupID, actorID); err != nil {
		return nil, err
	}
	return s.listInvitations(ctx, ` WHERE i.group_id = $1`, groupID)
}

// ListMyInvitations returns the pending invitations addressed to email.
func (s *Service) ListMyInvitations(ctx context.Context, email string) ([]Invitation, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.listInvitations(ctx, ` WHERE i.invited_email = $1 AND i.status = 'pending'`, email)
}

// AcceptInvitation turns a pending invitation addressed to email into a
// plain membership of teacherID.
func (s *Service) AcceptInvitation(ctx context.Context, teacherID, email, id string) (*Member, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin accept invitation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var groupID string
	err = tx.QueryRowContext(ctx, `
		UPDATE group_invitations SET status = 'accepted'
		WHERE id = $1 AND invited_email = $2 AND status = 'pending'
		RETURNING group_id
	`, id, email).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, teacher_id, role, joined_at)
		VALUES ($1, $2, 'member', $3)
		ON CONFLICT (group_id, teacher_id) DO NOTHING
	`, groupID, teacherID, s.now()); err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}

	var (
		out  = Member{GroupID: groupID, TeacherID: teacherID}
		role string
	)
	if err := tx.QueryRowContext(ctx, `
		SELECT role, joined_at FROM group_members WHERE group_id = $1 AND teacher_id = $2
	`, groupID, teacherID).Scan(&role, db.ScanTime(&out.JoinedAt)); err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	out.Role = Role(role)
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit accept invitation tx: %w", err)
	}
	return &out, nil
}

func (s *Service) DeclineInvitation(ctx context.Context, email, id string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE group_invitations SET status = 'declined'
		WHERE id = $1 AND invited_email = $2 AND status = 'pending'
	`, id, email)
	if err != nil {
		return fmt.Errorf("decline invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decline invitation rows: %w", err)
	}
	if n == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

// CancelInvitation deletes an invitation. Group admins only.
func (s *Service) CancelInvitation(ctx context.Context, actorID, id string) error {
	var groupID string
	err := s.db.QueryRowContext(ctx, `SELECT group_id FROM group_invitations WHERE id = $1`, id).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvitationNotFound
	}
	if err != nil {
		return fmt.Errorf("load invitation: %w", err)
	}
	if err := s.requireAdmin(ctx, s.db, groupID, actorID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM group_invitations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	return nil
}
