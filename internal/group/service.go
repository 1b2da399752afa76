// Package group lets teachers form groups, invite colleagues and share
// questions with everyone in a group.
package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"examhub/internal/apperr"
	"examhub/internal/db"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrGroupNotFound      = fmt.Errorf("%w: group not found", apperr.ErrNotFound)
	ErrMemberNotFound     = fmt.Errorf("%w: member not found", apperr.ErrNotFound)
	ErrInvitationNotFound = fmt.Errorf("%w: invitation not found", apperr.ErrNotFound)
	ErrNotMember          = fmt.Errorf("%w: not a member of this group", apperr.ErrForbidden)
	ErrNotAdmin           = fmt.Errorf("%w: group admin rights required", apperr.ErrForbidden)
	ErrAlreadyMember      = fmt.Errorf("%w: teacher is already a member", apperr.ErrConflict)
	ErrAlreadyInvited     = fmt.Errorf("%w: invitation already pending", apperr.ErrConflict)
	ErrLastOwner          = fmt.Errorf("%w: a group needs at least one owner", apperr.ErrConflict)
)

var validate = validator.New()

const maxGroupName = 120

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) manages() bool { return r == RoleOwner || r == RoleAdmin }

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
	MyRole      Role      `json:"my_role"`
}

type Member struct {
	GroupID   string    `json:"group_id"`
	TeacherID string    `json:"teacher_id"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

type Invitation struct {
	ID           string           `json:"id"`
	GroupID      string           `json:"group_id"`
	GroupName    string           `json:"group_name,omitempty"`
	InvitedEmail string           `json:"invited_email"`
	InvitedBy    string           `json:"invited_by"`
	Status       InvitationStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

type Share struct {
	QuestionID string    `json:"question_id"`
	GroupID    string    `json:"group_id"`
	GroupName  string    `json:"group_name"`
	SharedBy   string    `json:"shared_by"`
	SharedAt   time.Time `json:"shared_at"`
}

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func normalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", apperr.Invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > maxGroupName {
		return "", apperr.Invalidf("name", "must be at most %d characters", maxGroupName)
	}
	return name, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", apperr.Invalid("email", "must be a valid email address")
	}
	return email, nil
}

func nullable(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}

// role returns the teacher's role in a group. Missing groups and outsiders
// both get ErrNotMember.
func (s *Service) role(ctx context.Context, q queryable, groupID, teacherID string) (Role, error) {
	var role string
	err := q.QueryRowContext(ctx, `
		SELECT role FROM group_members WHERE group_id = $1 AND teacher_id = $2
	`, groupID, teacherID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("load group role: %w", err)
	}
	return Role(role), nil
}

func (s *Service) requireAdmin(ctx context.Context, q queryable, groupID, teacherID string) error {
	role, err := s.role(ctx, q, groupID, teacherID)
	if err != nil {
		return err
	}
	if !role.manages() {
		return ErrNotAdmin
	}
	return nil
}

// CreateGroup stores a group with its creator as owner.
func (s *Service) CreateGroup(ctx context.Context, ownerID, name, description string) (*Group, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create group tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, now := uuid.NewString(), s.now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teacher_groups (id, name, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, name, nullable(description), ownerID, now); err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, teacher_id, role, joined_at) VALUES ($1, $2, $3, $4)
	`, id, ownerID, string(RoleOwner), now); err != nil {
		return nil, fmt.Errorf("insert group owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create group tx: %w", err)
	}
	return s.GetGroup(ctx, ownerID, id)
}

const groupSelect = `
	SELECT g.id, g.name, g.description, g.created_by, g.created_at, m.role,
		(SELECT COUNT(*) FROM group_members c WHERE c.group_id = g.id)
	FROM teacher_groups g
	JOIN group_members m ON m.group_id = g.id
`

func scanGroup(scanner interface{ Scan(dest ...any) error }) (*Group, error) {
	var (
		out  Group
		desc sql.NullString
		role string
	)
	if err := scanner.Scan(&out.ID, &out.Name, &desc, &out.CreatedBy, db.ScanTime(&out.CreatedAt), &role, &out.MemberCount); err != nil {
		return nil, err
	}
	out.Description = desc.String
	out.MyRole = Role(role)
	return &out, nil
}

// GetGroup returns a group the teacher belongs to.
func (s *Service) GetGroup(ctx context.Context, teacherID, id string) (*Group, error) {
	out, err := scanGroup(s.db.QueryRowContext(ctx, groupSelect+` WHERE g.id = $1 AND m.teacher_id = $2`, id, teacherID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return out, nil
}

func (s *Service) ListGroups(ctx context.Context, teacherID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, groupSelect+` WHERE m.teacher_id = $1 ORDER BY g.name, g.id`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	out := make([]Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// DeleteGroup removes a group with its members, invitations and shares.
// Only owners may delete.
func (s *Service) DeleteGroup(ctx context.Context, teacherID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	role, err := s.role(ctx, tx, id, teacherID)
	if err != nil {
		return err
	}
	if role != RoleOwner {
		return ErrNotAdmin
	}
	var shared []string
	rows, err := tx.QueryContext(ctx, `SELECT question_id FROM question_shares WHERE group_id = $1`, id)
	if err != nil {
		return fmt.Errorf("load group shares: %w", err)
	}
	for rows.Next() {
		var qid string
		if err := rows.Scan(&qid); err != nil {
			rows.Close()
			return fmt.Errorf("scan group share: %w", err)
		}
		shared = append(shared, qid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate group shares: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM question_shares WHERE group_id = $1`,
		`DELETE FROM group_invitations WHERE group_id = $1`,
		`DELETE FROM group_members WHERE group_id = $1`,
		`DELETE FROM teacher_groups WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
	}
	for _, qid := range shared {
		if err := refreshShared(ctx, tx, qid); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete group tx: %w", err)
	}
	return nil
}

// ListMembers is open to every member of the group.
func (s *Service) ListMembers(ctx context.Context, teacherID, groupID string) ([]Member, error) {
	if _, err := s.role(ctx, s.db, groupID, teacherID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, teacher_id, role, joined_at
		FROM group_members WHERE group_id = $1
		ORDER BY joined_at, teacher_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	out := make([]Member, 0)
	for rows.Next() {
		var (
			m    Member
			role string
		)
		if err := rows.Scan(&m.GroupID, &m.TeacherID, &role, db.ScanTime(&m.JoinedAt)); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

// AddMember lets a group admin enrol a teacher directly.
func (s *Service) AddMember(ctx context.Context, actorID, groupID, teacherID string, role Role) (*Member, error) {
	teacherID = strings.TrimSpace(teacherID)
	if teacherID == "" {
		return nil, apperr.Invalid("teacher_id", "is required")
	}
	if role == "" {
		role = RoleMember
	}
	if role != RoleAdmin && role != RoleMember {
		return nil, apperr.Invalid("role", "must be admin or member")
	}
	if err := s.requireAdmin(ctx, s.db, groupID, actorID); err != nil {
		return nil, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, teacher_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, teacher_id) DO NOTHING
	`, groupID, teacherID, string(role), now)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("add member rows: %w", err)
	}
	if n == 0 {
		return nil, ErrAlreadyMember
	}
	return &Member{GroupID: groupID, TeacherID: teacherID, Role: role, JoinedAt: now}, nil
}

// RemoveMember drops a teacher from a group. Admins may remove anyone,
// members may only leave. The last owner cannot go.
func (s *Service) RemoveMember(ctx context.Context, actorID, groupID, teacherID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove member tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	actorRole, err := s.role(ctx, tx, groupID, actorID)
	if err != nil {
		return err
	}
	if actorID != teacherID && !actorRole.manages() {
		return ErrNotAdmin
	}
	targetRole, err := s.role(ctx, tx, groupID, teacherID)
	if errors.Is(err, ErrNotMember) {
		return ErrMemberNotFound
	}
	if err != nil {
		return err
	}
	if targetRole == RoleOwner {
		if actorRole != RoleOwner {
			return ErrNotAdmin
		}
		var owners int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND role = 'owner'
		`, groupID).Scan(&owners); err != nil {
			return fmt.Errorf("count owners: %w", err)
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = $1 AND teacher_id = $2
	`, groupID, teacherID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove member tx: %w", err)
	}
	return nil
}
