package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"examhub/internal/apperr"
	"examhub/internal/db"
	"examhub/internal/exam"
	"examhub/internal/question"
	"examhub/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound   = fmt.Errorf("%w: session not found", apperr.ErrNotFound)
	ErrAlreadySubmitted  = fmt.Errorf("%w: session already submitted", apperr.ErrInvalidState)
	ErrSessionSubmitted  = fmt.Errorf("%w: session is submitted", apperr.ErrInvalidState)
	ErrExamClosed        = fmt.Errorf("%w: exam is closed", apperr.ErrInvalidState)
	ErrQuestionNotInExam = fmt.Errorf("%w: question not in exam", apperr.ErrNotFound)
	ErrAnswerNotFound    = fmt.Errorf("%w: answer not found", apperr.ErrNotFound)
	ErrNotOwner          = fmt.Errorf("%w: session belongs to another teacher's exam", apperr.ErrForbidden)
)

var validate = validator.New()

const defaultUploadTTL = 15 * time.Minute

type Event string

const (
	EventSessionJoined    Event = "session_joined"
	EventSessionSubmitted Event = "session_submitted"
	EventAnswerSaved      Event = "answer_saved"
	EventTabLeave         Event = "tab_leave"
)

// Recorder counts session events, typically into metrics.
type Recorder interface {
	Record(event Event)
}

type Service struct {
	db        *sql.DB
	store     storage.ObjectStore
	logger    *zap.Logger
	recorder  Recorder
	tokens    *question.MatchTokens
	now       func() time.Time
	uploadTTL time.Duration
}

type Session struct {
	ID               string     `json:"id"`
	ExamID           string     `json:"exam_id"`
	StudentName      string     `json:"student_name"`
	StudentEmail     string     `json:"student_email"`
	StartedAt        time.Time  `json:"started_at"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	IsLocked         bool       `json:"is_locked"`
	TabLeaveCount    int        `json:"tab_leave_count"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds *int64     `json:"remaining_seconds,omitempty"`
	AnsweredCount    *int       `json:"answered_count,omitempty"`

	examStatus exam.Status
	timeLimit  *int
}

// NewService wires the session store. store may be nil when uploads are not
// configured; logger may be nil.
func NewService(db *sql.DB, store storage.ObjectStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        db,
		store:     store,
		logger:    logger,
		tokens:    question.NewMatchTokens(""),
		now:       func() time.Time { return time.Now().UTC() },
		uploadTTL: defaultUploadTTL,
	}
}

// WithRecorder attaches r to the service and returns it.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// WithMatchTokens sets the key that maps matching tokens to pair ids. It
// must equal the key the exam view publishes tokens with.
func (s *Service) WithMatchTokens(t *question.MatchTokens) *Service {
	if t != nil {
		s.tokens = t
	}
	return s
}

// WithUploadTTL sets how long presigned upload URLs stay valid.
func (s *Service) WithUploadTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.uploadTTL = ttl
	}
	return s
}

func (s *Service) record(event Event) {
	if s.recorder != nil {
		s.recorder.Record(event)
	}
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sessionSelect = `
	SELECT s.id, s.exam_id, s.student_name, s.student_email, s.started_at, s.submitted_at,
		s.is_locked, s.tab_leave_count, e.status, e.time_limit_minutes
	FROM exam_sessions s
	JOIN exams e ON e.id = s.exam_id
`

func scanSession(scanner interface{ Scan(dest ...any) error }, extra ...any) (*Session, error) {
	var (
		out       Session
		status    string
		timeLimit sql.NullInt64
	)
	dest := []any{
		&out.ID,
		&out.ExamID,
		&out.StudentName,
		&out.StudentEmail,
		db.ScanTime(&out.StartedAt),
		db.ScanNullTime(&out.SubmittedAt),
		&out.IsLocked,
		&out.TabLeaveCount,
		&status,
		&timeLimit,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	out.examStatus = exam.Status(status)
	if timeLimit.Valid {
		v := int(timeLimit.Int64)
		out.timeLimit = &v
	}
	return &out, nil
}

// withTiming fills the advisory deadline. Sessions are never expired here;
// clients submit when the clock runs out.
func (s *Session) withTiming(now time.Time) *Session {
	if s.timeLimit == nil {
		return s
	}
	expires := s.StartedAt.Add(time.Duration(*s.timeLimit) * time.Minute)
	s.ExpiresAt = &expires
	remaining := int64(expires.Sub(now) / time.Second)
	if remaining < 0 || s.SubmittedAt != nil {
		remaining = 0
	}
	s.RemainingSeconds = &remaining
	return s
}

func (s *Service) load(ctx context.Context, q queryable, id string) (*Session, error) {
	out, err := scanSession(q.QueryRowContext(ctx, sessionSelect+` WHERE s.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	out, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return out.withTiming(s.now()), nil
}

// Join enrols a student in an active exam. Joining again with the same email
// returns the existing session, also under concurrent calls.
func (s *Service) Join(ctx context.Context, examID, name, email string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, apperr.Invalid("student_name", "is required")
	}
	if len(name) > 255 {
		return nil, apperr.Invalid("student_name", "must be at most 255 characters")
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, apperr.Invalid("student_email", "must be a valid email address")
	}

	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM exams WHERE id = $1`, examID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exam.ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam status: %w", err)
	}
	if exam.Status(status) != exam.StatusActive {
		return nil, exam.ErrExamNotActive
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO exam_sessions (id, exam_id, student_name, student_email, started_at, is_locked, tab_leave_count)
		VALUES ($1, $2, $3, $4, $5, FALSE, 0)
		ON CONFLICT (exam_id, student_email) DO NOTHING
	`, uuid.NewString(), examID, name, email, s.now()); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	out, err := scanSession(s.db.QueryRowContext(ctx, sessionSelect+` WHERE s.exam_id = $1 AND s.student_email = $2`, examID, email))
	if err != nil {
		return nil, fmt.Errorf("load joined session: %w", err)
	}
	s.record(EventSessionJoined)
	return out.withTiming(s.now()), nil
}

// RecordTabLeave counts a focus loss and locks the session, but only for
// exams that ask for it and only until submission. Otherwise the current
// session is returned unchanged.
func (s *Service) RecordTabLeave(ctx context.Context, id string) (*Session, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE exam_sessions
		SET tab_leave_count = tab_leave_count + 1, is_locked = TRUE
		WHERE id = $1
			AND submitted_at IS NULL
			AND EXISTS (
				SELECT 1 FROM exams e
				WHERE e.id = exam_sessions.exam_id AND e.lock_on_tab_leave = TRUE
			)
	`, id)
	if err != nil {
		return nil, fmt.Errorf("record tab leave: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.record(EventTabLeave)
	}
	return s.Get(ctx, id)
}

// Unlock clears the lock flag. The tab leave count is kept.
func (s *Service) Unlock(ctx context.Context, ownerID, id string) (*Session, error) {
	if err := s.requireExamOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE exam_sessions SET is_locked = FALSE WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("unlock session: %w", err)
	}
	return s.Get(ctx, id)
}

// Submit freezes the session. Unanswered questions are allowed. Only the
// first call succeeds; later calls report ErrAlreadySubmitted.
func (s *Service) Submit(ctx context.Context, id string) (*Session, error) {
	current, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if current.SubmittedAt != nil {
		return nil, ErrAlreadySubmitted
	}
	if current.examStatus == exam.StatusClosed {
		return nil, ErrExamClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE exam_sessions
		SET submitted_at = $2
		WHERE id = $1
			AND submitted_at IS NULL
			AND EXISTS (
				SELECT 1 FROM exams e
				WHERE e.id = exam_sessions.exam_id AND e.status <> 'closed'
			)
	`, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("submit session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("submit session rows: %w", err)
	}
	if n == 0 {
		after, err := s.load(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if after.SubmittedAt != nil {
			return nil, ErrAlreadySubmitted
		}
		return nil, ErrExamClosed
	}
	s.record(EventSessionSubmitted)
	return s.Get(ctx, id)
}

// ListByExam is the monitoring view of an exam: newest sessions first with
// the number of saved answers.
func (s *Service) ListByExam(ctx context.Context, ownerID, examID string) ([]Session, error) {
	var owner string
	if err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM exams WHERE id = $1`, examID).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exam.ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam owner: %w", err)
	}
	if owner != ownerID {
		return nil, exam.ErrNotOwner
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.exam_id, s.student_name, s.student_email, s.started_at, s.submitted_at,
			s.is_locked, s.tab_leave_count, e.status, e.time_limit_minutes,
			(SELECT COUNT(*) FROM answers a WHERE a.session_id = s.id)
		FROM exam_sessions s
		JOIN exams e ON e.id = s.exam_id
		WHERE s.exam_id = $1
		ORDER BY s.started_at DESC, s.id
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	now := s.now()
	out := make([]Session, 0)
	for rows.Next() {
		var answered int
		item, err := scanSession(rows, &answered)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		item.AnsweredCount = &answered
		out = append(out, *item.withTiming(now))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *Service) requireExamOwner(ctx context.Context, sessionID, ownerID string) error {
	var owner string
	if err := s.db.QueryRowContext(ctx, `
		SELECT e.owner_id
		FROM exam_sessions s
		JOIN exams e ON e.id = s.exam_id
		WHERE s.id = $1
	`, sessionID).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("load session owner: %w", err)
	}
	if owner != ownerID {
		return ErrNotOwner
	}
	return nil
}
