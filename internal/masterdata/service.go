// Package masterdata holds the reference data teachers file questions under.
package masterdata

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

	"github.com/google/uuid"
)

var (
	ErrSubjectNotFound = fmt.Errorf("%w: subject not found", apperr.ErrNotFound)
	ErrSubjectExists   = fmt.Errorf("%w: subject with this name already exists", apperr.ErrConflict)
)

const maxSubjectName = 120

type Service struct {
	db  *sql.DB
	now func() time.Time
}

type Subject struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func normalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", apperr.Invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > maxSubjectName {
		return "", apperr.Invalidf("name", "must be at most %d characters", maxSubjectName)
	}
	return name, nil
}

func (s *Service) CreateSubject(ctx context.Context, ownerID, name string) (*Subject, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, owner_id, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, name) DO NOTHING
	`, id, ownerID, name, s.now())
	if err != nil {
		return nil, fmt.Errorf("create subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create subject rows: %w", err)
	}
	if n == 0 {
		return nil, ErrSubjectExists
	}
	return s.GetSubject(ctx, ownerID, id)
}

func (s *Service) RenameSubject(ctx context.Context, ownerID, id, name string) (*Subject, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	current, err := s.GetSubject(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if current.Name == name {
		return current, nil
	}

	var clash int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subjects WHERE owner_id = $1 AND name = $2 AND id <> $3
	`, ownerID, name, id).Scan(&clash); err != nil {
		return nil, fmt.Errorf("check subject name: %w", err)
	}
	if clash > 0 {
		return nil, ErrSubjectExists
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE subjects SET name = $3 WHERE id = $1 AND owner_id = $2`, id, ownerID, name); err != nil {
		return nil, fmt.Errorf("rename subject: %w", err)
	}
	return s.GetSubject(ctx, ownerID, id)
}

// DeleteSubject removes the subject. Its questions stay and lose the link.
func (s *Service) DeleteSubject(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete subject tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE questions SET subject_id = NULL WHERE subject_id = $1`, id); err != nil {
		return fmt.Errorf("unlink questions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM subjects WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subject rows: %w", err)
	}
	if n == 0 {
		return ErrSubjectNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete subject tx: %w", err)
	}
	return nil
}

const subjectSelect = `
	SELECT s.id, s.owner_id, s.name, s.created_at,
		(SELECT COUNT(*) FROM questions q WHERE q.subject_id = s.id)
	FROM subjects s
`

func scanSubject(scanner interface{ Scan(dest ...any) error }) (*Subject, error) {
	var out Subject
	if err := scanner.Scan(&out.ID, &out.OwnerID, &out.Name, db.ScanTime(&out.CreatedAt), &out.QuestionCount); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSubject returns a subject of ownerID. Subjects of other teachers are
// reported as missing.
func (s *Service) GetSubject(ctx context.Context, ownerID, id string) (*Subject, error) {
	out, err := scanSubject(s.db.QueryRowContext(ctx, subjectSelect+` WHERE s.id = $1 AND s.owner_id = $2`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return out, nil
}

func (s *Service) ListSubjects(ctx context.Context, ownerID string) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx, subjectSelect+` WHERE s.owner_id = $1 ORDER BY s.name, s.id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	out := make([]Subject, 0)
	for rows.Next() {
		item, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}
