package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"examhub/internal/apperr"
	"examhub/internal/db"
	"examhub/internal/question"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

const copySuffix = " (Kopie)"

var (
	ErrExamNotFound  = fmt.Errorf("%w: exam not found", apperr.ErrNotFound)
	ErrExamNotDraft  = fmt.Errorf("%w: exam is not a draft", apperr.ErrInvalidState)
	ErrExamNotActive = fmt.Errorf("%w: exam is not active", apperr.ErrInvalidState)
	ErrExamActive    = fmt.Errorf("%w: active exams cannot be deleted", apperr.ErrInvalidState)
	ErrNotOwner      = fmt.Errorf("%w: exam belongs to another teacher", apperr.ErrForbidden)
)

var validate = validator.New()

type Service struct {
	db            *sql.DB
	mailer        InviteMailer
	publicBaseURL string
	tokens        *question.MatchTokens
	now           func() time.Time
}

type Exam struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Status           Status    `json:"status"`
	TimeLimitMinutes *int      `json:"time_limit_minutes,omitempty"`
	LockOnTabLeave   bool      `json:"lock_on_tab_leave"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type CreateInput struct {
	OwnerID          string
	Title            string
	Description      string
	TimeLimitMinutes *int
	LockOnTabLeave   bool
}

type UpdateInput struct {
	ID string
	CreateInput
}

type InviteResult struct {
	Exam    *Exam    `json:"exam"`
	Link    string   `json:"link"`
	Sent    []string `json:"sent"`
	Failed  []string `json:"failed"`
	Invalid []string `json:"invalid"`
}

func NewService(db *sql.DB, mailer InviteMailer, publicBaseURL string) *Service {
	return &Service{
		db:            db,
		mailer:        mailer,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		tokens:        question.NewMatchTokens(""),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithMatchTokens sets the key used for matching items in StudentView.
func (s *Service) WithMatchTokens(t *question.MatchTokens) *Service {
	if t != nil {
		s.tokens = t
	}
	return s
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execQueryable interface {
	queryable
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const examColumns = "id, owner_id, title, description, status, time_limit_minutes, lock_on_tab_leave, created_at, updated_at"

// Columns is the select list understood by Scan, qualified by alias.
func Columns(alias string) string {
	if alias == "" {
		return examColumns
	}
	cols := strings.Split(examColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func Scan(scanner interface{ Scan(dest ...any) error }) (*Exam, error) {
	var (
		out       Exam
		desc      sql.NullString
		status    string
		timeLimit sql.NullInt64
	)
	if err := scanner.Scan(
		&out.ID,
		&out.OwnerID,
		&out.Title,
		&desc,
		&status,
		&timeLimit,
		&out.LockOnTabLeave,
		db.ScanTime(&out.CreatedAt),
		db.ScanTime(&out.UpdatedAt),
	); err != nil {
		return nil, err
	}
	out.Description = desc.String
	out.Status = Status(status)
	if timeLimit.Valid {
		v := int(timeLimit.Int64)
		out.TimeLimitMinutes = &v
	}
	return &out, nil
}

func normalizeInput(in CreateInput) (CreateInput, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.OwnerID == "" {
		return in, apperr.Invalid("owner_id", "is required")
	}
	if in.Title == "" {
		return in, apperr.Invalid("title", "is required")
	}
	if len(in.Title) > 255 {
		return in, apperr.Invalid("title", "must be at most 255 characters")
	}
	if in.TimeLimitMinutes != nil && *in.TimeLimitMinutes <= 0 {
		return in, apperr.Invalid("time_limit_minutes", "must be positive")
	}
	return in, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Exam, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO exams (id, owner_id, title, description, status, time_limit_minutes, lock_on_tab_leave, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'draft', $5, $6, $7, $7)
		RETURNING `+examColumns,
		uuid.NewString(), in.OwnerID, in.Title, nullString(in.Description), nullInt(in.TimeLimitMinutes), in.LockOnTabLeave, now)
	e, err := Scan(row)
	if err != nil {
		return nil, fmt.Errorf("insert exam: %w", err)
	}
	return e, nil
}

func (s *Service) Update(ctx context.Context, in UpdateInput) (*Exam, error) {
	normalized, err := normalizeInput(in.CreateInput)
	if err != nil {
		return nil, err
	}
	current, err := loadOwned(ctx, s.db, in.ID, normalized.OwnerID)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusDraft {
		return nil, ErrExamNotDraft
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE exams
		SET title = $2, description = $3, time_limit_minutes = $4, lock_on_tab_leave = $5, updated_at = $6
		WHERE id = $1 AND status = 'draft'
		RETURNING `+examColumns,
		in.ID, normalized.Title, nullString(normalized.Description), nullInt(normalized.TimeLimitMinutes), normalized.LockOnTabLeave, s.now())
	e, err := Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExamNotDraft
	}
	if err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return e, nil
}

// Delete removes the exam together with its sections, assignments,
// sessions and answers. Active exams are refused.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete exam tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := loadOwned(ctx, tx, id, ownerID)
	if err != nil {
		return err
	}
	if e.Status == StatusActive {
		return ErrExamActive
	}

	stmts := []string{
		`DELETE FROM answers WHERE session_id IN (SELECT id FROM exam_sessions WHERE exam_id = $1)`,
		`DELETE FROM exam_sessions WHERE exam_id = $1`,
		`DELETE FROM exam_questions WHERE exam_id = $1`,
		`DELETE FROM exam_sections WHERE exam_id = $1`,
		`DELETE FROM exams WHERE id = $1`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete exam: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete exam: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Exam, error) {
	return load(ctx, s.db, id)
}

func (s *Service) GetOwned(ctx context.Context, ownerID, id string) (*Exam, error) {
	return loadOwned(ctx, s.db, id, ownerID)
}

func (s *Service) List(ctx context.Context, ownerID string) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+examColumns+`
		FROM exams
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	out := make([]Exam, 0)
	for rows.Next() {
		e, err := Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

func (s *Service) Activate(ctx context.Context, ownerID, id string) (*Exam, error) {
	return s.transition(ctx, ownerID, id, StatusDraft, StatusActive)
}

func (s *Service) Close(ctx context.Context, ownerID, id string) (*Exam, error) {
	return s.transition(ctx, ownerID, id, StatusActive, StatusClosed)
}

func (s *Service) transition(ctx context.Context, ownerID, id string, from, to Status) (*Exam, error) {
	if _, err := loadOwned(ctx, s.db, id, ownerID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE exams
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+examColumns,
		id, string(from), string(to), s.now())
	e, err := Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: exam must be %s to become %s", apperr.ErrInvalidState, from, to)
	}
	if err != nil {
		return nil, fmt.Errorf("update exam status: %w", err)
	}
	return e, nil
}

// Duplicate copies the exam settings, sections and question assignments into
// a new draft of the same owner. Sessions and answers stay with the source.
func (s *Service) Duplicate(ctx context.Context, ownerID, id string) (*Exam, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin duplicate exam tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	src, err := loadOwned(ctx, tx, id, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	row := tx.QueryRowContext(ctx, `
		INSERT INTO exams (id, owner_id, title, description, status, time_limit_minutes, lock_on_tab_leave, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'draft', $5, $6, $7, $7)
		RETURNING `+examColumns,
		uuid.NewString(), ownerID, src.Title+copySuffix, nullString(src.Description), nullInt(src.TimeLimitMinutes), src.LockOnTabLeave, now)
	dup, err := Scan(row)
	if err != nil {
		return nil, fmt.Errorf("insert exam copy: %w", err)
	}

	sections, err := loadSections(ctx, tx, src.ID)
	if err != nil {
		return nil, err
	}
	sectionIDs := make(map[string]string, len(sections))
	for _, sec := range sections {
		newID := uuid.NewString()
		sectionIDs[sec.ID] = newID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_sections (id, exam_id, title, description, order_index)
			VALUES ($1, $2, $3, $4, $5)
		`, newID, dup.ID, sec.Title, nullString(sec.Description), sec.OrderIndex); err != nil {
			return nil, fmt.Errorf("copy section: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT question_id, section_id, order_index
		FROM exam_questions
		WHERE exam_id = $1
	`, src.ID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	type assignment struct {
		questionID string
		sectionID  sql.NullString
		order      int
	}
	var assignments []assignment
	for rows.Next() {
		var a assignment
		if err := rows.Scan(&a.questionID, &a.sectionID, &a.order); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	rows.Close()

	for _, a := range assignments {
		var section any
		if a.sectionID.Valid {
			section = sectionIDs[a.sectionID.String]
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_questions (exam_id, question_id, section_id, order_index)
			VALUES ($1, $2, $3, $4)
		`, dup.ID, a.questionID, section, a.order); err != nil {
			return nil, fmt.Errorf("copy assignment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit duplicate exam: %w", err)
	}
	return dup, nil
}

// ActivateAndInvite activates the exam and mails the join link to every valid
// address. Mail failures are reported per address and never undo activation.
func (s *Service) ActivateAndInvite(ctx context.Context, ownerID, id string, emails []string) (*InviteResult, error) {
	e, err := s.Activate(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	res := &InviteResult{
		Exam:    e,
		Link:    s.JoinLink(e.ID),
		Sent:    []string{},
		Failed:  []string{},
		Invalid: []string{},
	}
	seen := make(map[string]struct{}, len(emails))
	for _, raw := range emails {
		addr := strings.ToLower(strings.TrimSpace(raw))
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		if err := validate.Var(addr, "email"); err != nil {
			res.Invalid = append(res.Invalid, addr)
			continue
		}
		if s.mailer == nil {
			res.Failed = append(res.Failed, addr)
			continue
		}
		if err := s.mailer.SendInvite(ctx, addr, e.Title, res.Link); err != nil {
			res.Failed = append(res.Failed, addr)
			continue
		}
		res.Sent = append(res.Sent, addr)
	}
	return res, nil
}

func (s *Service) JoinLink(examID string) string {
	return s.publicBaseURL + "/take/" + examID
}

func load(ctx context.Context, q queryable, id string) (*Exam, error) {
	e, err := Scan(q.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	return e, nil
}

func loadOwned(ctx context.Context, q queryable, id, ownerID string) (*Exam, error) {
	e, err := load(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if e.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return e, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
