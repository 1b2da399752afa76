package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"examhub/internal/apperr"
	"examhub/internal/db"

	"github.com/google/uuid"
)

var (
	ErrQuestionNotFound = fmt.Errorf("%w: question not found", apperr.ErrNotFound)
	ErrSubjectNotFound  = fmt.Errorf("%w: subject not found", apperr.ErrNotFound)
	ErrQuestionInUse    = fmt.Errorf("%w: question is used by an exam", apperr.ErrConflict)
	ErrQuestionLocked   = fmt.Errorf("%w: question is used by a published exam", apperr.ErrConflict)
	ErrNotOwner         = fmt.Errorf("%w: question belongs to another teacher", apperr.ErrForbidden)
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

type Question struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Type       Type       `json:"type"`
	Title      string     `json:"title"`
	Content    Content    `json:"content"`
	Points     int        `json:"points"`
	BloomLevel BloomLevel `json:"bloom_level,omitempty"`
	SubjectID  *string    `json:"subject_id,omitempty"`
	// IsShared is set while the question is shared with at least one group.
	IsShared   bool       `json:"is_shared"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type CreateInput struct {
	OwnerID    string
	Type       string
	Title      string
	Content    json.RawMessage
	Points     int
	BloomLevel string
	SubjectID  string
}

type UpdateInput struct {
	ID string
	CreateInput
}

type ListFilter struct {
	OwnerID   string
	Type      string
	SubjectID string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Columns is the select list understood by Scan, qualified by alias.
func Columns(alias string) string {
	cols := []string{"id", "owner_id", "type", "title", "content", "points", "bloom_level", "subject_id", "is_shared", "created_at", "updated_at"}
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func Scan(scanner interface{ Scan(dest ...any) error }) (*Question, error) {
	var (
		out     Question
		qType   string
		content []byte
		bloom   sql.NullString
		subject sql.NullString
	)
	if err := scanner.Scan(
		&out.ID,
		&out.OwnerID,
		&qType,
		&out.Title,
		&content,
		&out.Points,
		&bloom,
		&subject,
		&out.IsShared,
		db.ScanTime(&out.CreatedAt),
		db.ScanTime(&out.UpdatedAt),
	); err != nil {
		return nil, err
	}
	out.Type = Type(qType)
	c, err := DecodeContent(out.Type, content)
	if err != nil {
		return nil, fmt.Errorf("decode stored content of %s: %w", out.ID, err)
	}
	out.Content = c
	if bloom.Valid {
		out.BloomLevel = BloomLevel(bloom.String)
	}
	if subject.Valid {
		out.SubjectID = &subject.String
	}
	return &out, nil
}

type normalizedInput struct {
	qType   Type
	title   string
	raw     []byte
	bloom   any
	subject any
	points  int
}

func (s *Service) normalize(ctx context.Context, in CreateInput) (*normalizedInput, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, apperr.Invalid("owner_id", "is required")
	}
	qType, err := ParseType(in.Type)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Invalid("title", "is required")
	}
	if in.Points <= 0 {
		return nil, apperr.Invalid("points", "must be a positive integer")
	}
	content, err := ParseContent(qType, in.Content)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	out := &normalizedInput{qType: qType, title: title, raw: raw, points: in.Points}
	if strings.TrimSpace(in.BloomLevel) != "" {
		level, err := ParseBloomLevel(in.BloomLevel)
		if err != nil {
			return nil, err
		}
		out.bloom = string(level)
	}
	if subjectID := strings.TrimSpace(in.SubjectID); subjectID != "" {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1 AND owner_id = $2)
		`, subjectID, in.OwnerID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check subject: %w", err)
		}
		if !exists {
			return nil, ErrSubjectNotFound
		}
		out.subject = subjectID
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Question, error) {
	n, err := s.normalize(ctx, in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			id, owner_id, type, title, content, points, bloom_level, subject_id,
			is_shared, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $9)
		RETURNING `+Columns(""),
		uuid.NewString(), in.OwnerID, string(n.qType), n.title, string(n.raw), n.points, n.bloom, n.subject, now)
	q, err := Scan(row)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

func (s *Service) Update(ctx context.Context, in UpdateInput) (*Question, error) {
	n, err := s.normalize(ctx, in.CreateInput)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, s.db, in.ID, in.OwnerID); err != nil {
		return nil, err
	}
	// Questions of active or closed exams are frozen.
	var live bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM exam_questions eq
			JOIN exams e ON e.id = eq.exam_id
			WHERE eq.question_id = $1 AND e.status <> 'draft'
		)
	`, in.ID).Scan(&live); err != nil {
		return nil, fmt.Errorf("check question usage: %w", err)
	}
	if live {
		return nil, ErrQuestionLocked
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE questions
		SET type = $2, title = $3, content = $4, points = $5, bloom_level = $6,
			subject_id = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+Columns(""),
		in.ID, string(n.qType), n.title, string(n.raw), n.points, n.bloom, n.subject, s.now())
	q, err := Scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("update question: %w", err)
	}
	return q, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Question, error) {
	q, err := Scan(s.db.QueryRowContext(ctx, `SELECT `+Columns("")+` FROM questions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Question, error) {
	if strings.TrimSpace(f.OwnerID) == "" {
		return nil, apperr.Invalid("owner_id", "is required")
	}
	qType := ""
	if strings.TrimSpace(f.Type) != "" {
		t, err := ParseType(f.Type)
		if err != nil {
			return nil, err
		}
		qType = string(t)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+Columns("")+`
		FROM questions
		WHERE owner_id = $1
			AND ($2 = '' OR type = $2)
			AND ($3 = '' OR subject_id = $3)
		ORDER BY created_at DESC, id
	`, f.OwnerID, qType, strings.TrimSpace(f.SubjectID))
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// AccessibleTo is a SQL condition on the question aliased alias. It holds
// when the teacher bound at param owns the question or is a member of a
// group it is shared with.
func AccessibleTo(alias, param string) string {
	return "(" + alias + ".owner_id = " + param + ` OR EXISTS (
		SELECT 1 FROM question_shares qs
		JOIN group_members gm ON gm.group_id = qs.group_id
		WHERE qs.question_id = ` + alias + ".id AND gm.teacher_id = " + param + "))"
}

func (s *Service) accessible(ctx context.Context, viewerID, id string) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM questions q WHERE q.id = $1 AND `+AccessibleTo("q", "$2")+`)
	`, id, viewerID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check question access: %w", err)
	}
	return ok, nil
}

// GetFor returns a question the viewer owns or reaches through one of their
// groups.
func (s *Service) GetFor(ctx context.Context, viewerID, id string) (*Question, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.OwnerID == viewerID {
		return q, nil
	}
	ok, err := s.accessible(ctx, viewerID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotOwner
	}
	return q, nil
}

// ListShared returns questions of other teachers shared with any group the
// viewer belongs to. Each question appears once.
func (s *Service) ListShared(ctx context.Context, viewerID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+Columns("q")+`
		FROM questions q
		WHERE q.owner_id <> $1 AND `+AccessibleTo("q", "$1")+`
		ORDER BY q.created_at DESC, q.id
	`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list shared questions: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]Question, error) {
	out := make([]Question, 0)
	for rows.Next() {
		q, err := Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.requireOwner(ctx, tx, id, ownerID); err != nil {
		return err
	}
	var used bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM exam_questions WHERE question_id = $1)
			OR EXISTS (SELECT 1 FROM answers WHERE question_id = $1)
	`, id).Scan(&used); err != nil {
		return fmt.Errorf("check question usage: %w", err)
	}
	if used {
		return ErrQuestionInUse
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM question_shares WHERE question_id = $1`, id); err != nil {
		return fmt.Errorf("delete question shares: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Copy stores an unshared clone of a question under newOwner. The source
// must belong to newOwner or be shared with one of newOwner's groups.
func (s *Service) Copy(ctx context.Context, id, newOwner string) (*Question, error) {
	if strings.TrimSpace(newOwner) == "" {
		return nil, apperr.Invalid("owner_id", "is required")
	}
	src, err := s.GetFor(ctx, newOwner, id)
	if err != nil {
		return nil, err
	}
	clone, err := CloneAsUnshared(*src, newOwner, s.now())
	if err != nil {
		return nil, err
	}

	var bloom any
	if clone.BloomLevel != "" {
		bloom = string(clone.BloomLevel)
	}
	q, err := Scan(s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			id, owner_id, type, title, content, points, bloom_level, subject_id,
			is_shared, created_at, updated_at
		)
		SELECT $1, $2, type, $3, content, points, $4, NULL, FALSE, $5, $5
		FROM questions WHERE id = $6
		RETURNING `+Columns(""),
		clone.ID, clone.OwnerID, clone.Title, bloom, clone.CreatedAt, src.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("copy question: %w", err)
	}
	return q, nil
}

func (s *Service) requireOwner(ctx context.Context, q queryable, id, ownerID string) error {
	var owner string
	if err := q.QueryRowContext(ctx, `SELECT owner_id FROM questions WHERE id = $1`, id).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("load question owner: %w", err)
	}
	if owner != ownerID {
		return ErrNotOwner
	}
	return nil
}
