package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"examhub/internal/apperr"
	"examhub/internal/db"
	"examhub/internal/exam"
	"examhub/internal/question"
	"examhub/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Answer struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	QuestionID    string          `json:"question_id"`
	Content       question.Answer `json:"content"`
	PointsAwarded *int            `json:"points_awarded"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Upload struct {
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

const removeTimeout = 10 * time.Second

// examQuestion loads a question of the session's exam.
func (s *Service) examQuestion(ctx context.Context, examID, questionID string) (*question.Question, error) {
	q, err := question.Scan(s.db.QueryRowContext(ctx, `
		SELECT `+question.Columns("q")+`
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1 AND eq.question_id = $2
	`, examID, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuestionNotInExam
	}
	if err != nil {
		return nil, fmt.Errorf("load exam question: %w", err)
	}
	return q, nil
}

// SaveAnswer stores the student's answer for one question, replacing any
// earlier one. The write only lands while the session is open and the exam
// is not closed.
func (s *Service) SaveAnswer(ctx context.Context, sessionID, questionID string, raw json.RawMessage) (*Answer, error) {
	sess, err := s.load(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.SubmittedAt != nil {
		return nil, ErrSessionSubmitted
	}
	if sess.examStatus == exam.StatusClosed {
		return nil, ErrExamClosed
	}
	q, err := s.examQuestion(ctx, sess.ExamID, questionID)
	if err != nil {
		return nil, err
	}
	parsed, err := question.ParseAnswer(q.Content, raw)
	if err != nil {
		return nil, err
	}
	parsed, err = s.tokens.Reveal(sess.ExamID, questionID, q.Content, parsed)
	if err != nil {
		return nil, err
	}
	for i, p := range question.UploadPaths(parsed) {
		if !storage.IsUploadPath(sessionID, questionID, p) {
			return nil, apperr.Invalidf("content.files", "file %d was not uploaded to this session and question", i)
		}
	}
	canonical, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}

	var previous []string
	if q.Type == question.TypeFileUpload {
		prev, err := s.GetAnswer(ctx, sessionID, questionID)
		switch {
		case err == nil:
			previous = question.UploadPaths(prev.Content)
		case !errors.Is(err, ErrAnswerNotFound):
			return nil, err
		}
	}

	now := s.now()
	out := Answer{SessionID: sessionID, QuestionID: questionID, Content: s.tokens.Conceal(sess.ExamID, questionID, parsed), UpdatedAt: now}
	var awarded sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO answers (id, session_id, question_id, content, points_awarded, updated_at)
		SELECT $1, $2, $3, $4, NULL, $5
		WHERE EXISTS (
			SELECT 1
			FROM exam_sessions s
			JOIN exams e ON e.id = s.exam_id
			WHERE s.id = $2 AND s.submitted_at IS NULL AND e.status <> 'closed'
		)
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		RETURNING id, points_awarded
	`, uuid.NewString(), sessionID, questionID, string(canonical), now).Scan(&out.ID, &awarded)
	if errors.Is(err, sql.ErrNoRows) {
		after, loadErr := s.load(ctx, s.db, sessionID)
		if loadErr != nil {
			return nil, loadErr
		}
		if after.SubmittedAt != nil {
			return nil, ErrSessionSubmitted
		}
		return nil, ErrExamClosed
	}
	if err != nil {
		return nil, fmt.Errorf("upsert answer: %w", err)
	}
	if awarded.Valid {
		v := int(awarded.Int64)
		out.PointsAwarded = &v
	}

	s.removeOrphans(ctx, sessionID, questionID, previous, question.UploadPaths(parsed))
	s.record(EventAnswerSaved)
	return &out, nil
}

// removeOrphans deletes uploads that the new answer no longer references.
// Paths outside the session's own upload prefix are never removed.
// Failures are logged only.
func (s *Service) removeOrphans(ctx context.Context, sessionID, questionID string, previous, current []string) {
	if len(previous) == 0 {
		return
	}
	keep := make(map[string]struct{}, len(current))
	for _, p := range current {
		keep[p] = struct{}{}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	for _, p := range previous {
		if _, ok := keep[p]; ok {
			continue
		}
		if !storage.IsUploadPath(sessionID, questionID, p) {
			s.logger.Warn("refusing to remove foreign upload", zap.String("session_id", sessionID), zap.String("path", p))
			continue
		}
		if s.store == nil {
			s.logger.Warn("upload left in storage", zap.String("session_id", sessionID), zap.String("path", p))
			continue
		}
		if err := s.store.Remove(ctx, p); err != nil {
			s.logger.Warn("remove orphaned upload failed",
				zap.String("session_id", sessionID),
				zap.String("path", p),
				zap.Error(err),
			)
		}
	}
}

func scanAnswer(scanner interface{ Scan(dest ...any) error }) (*Answer, error) {
	var (
		out     Answer
		qType   string
		content []byte
		awarded sql.NullInt64
	)
	if err := scanner.Scan(
		&out.ID,
		&out.SessionID,
		&out.QuestionID,
		&content,
		&awarded,
		db.ScanTime(&out.UpdatedAt),
		&qType,
	); err != nil {
		return nil, err
	}
	a, err := question.DecodeAnswer(question.Type(qType), content)
	if err != nil {
		return nil, fmt.Errorf("decode stored answer %s: %w", out.ID, err)
	}
	out.Content = a
	if awarded.Valid {
		v := int(awarded.Int64)
		out.PointsAwarded = &v
	}
	return &out, nil
}

const answerSelect = `
	SELECT a.id, a.session_id, a.question_id, a.content, a.points_awarded, a.updated_at, q.type
	FROM answers a
	JOIN questions q ON q.id = a.question_id
`

func (s *Service) GetAnswer(ctx context.Context, sessionID, questionID string) (*Answer, error) {
	out, err := scanAnswer(s.db.QueryRowContext(ctx, answerSelect+` WHERE a.session_id = $1 AND a.question_id = $2`, sessionID, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAnswerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get answer: %w", err)
	}
	return out, nil
}

// ListAnswers returns the session's answers as the student sees them, with
// matching right items under their published tokens.
func (s *Service) ListAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	sess, err := s.load(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, answerSelect+` WHERE a.session_id = $1 ORDER BY a.updated_at, a.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := make([]Answer, 0)
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.Content = s.tokens.Conceal(sess.ExamID, a.QuestionID, a.Content)
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

// AwardPoints sets or, with nil, clears the teacher's manual score. It is
// allowed in any session state.
func (s *Service) AwardPoints(ctx context.Context, ownerID, answerID string, points *int) (*Answer, error) {
	var (
		owner     string
		maxPoints int
		sessionID string
		qID       string
	)
	if err := s.db.QueryRowContext(ctx, `
		SELECT e.owner_id, q.points, a.session_id, a.question_id
		FROM answers a
		JOIN questions q ON q.id = a.question_id
		JOIN exam_sessions s ON s.id = a.session_id
		JOIN exams e ON e.id = s.exam_id
		WHERE a.id = $1
	`, answerID).Scan(&owner, &maxPoints, &sessionID, &qID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAnswerNotFound
		}
		return nil, fmt.Errorf("load answer for award: %w", err)
	}
	if owner != ownerID {
		return nil, ErrNotOwner
	}
	if points != nil && (*points < 0 || *points > maxPoints) {
		return nil, apperr.Invalidf("points", "must be between 0 and %d", maxPoints)
	}

	var value any
	if points != nil {
		value = *points
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE answers SET points_awarded = $2 WHERE id = $1`, answerID, value); err != nil {
		return nil, fmt.Errorf("award points: %w", err)
	}
	return s.GetAnswer(ctx, sessionID, qID)
}

// PresignUpload reserves an object path for a file answer and returns a
// short lived PUT URL for it. The answer itself is saved separately with the
// returned path.
func (s *Service) PresignUpload(ctx context.Context, sessionID, questionID, filename string) (*Upload, error) {
	sess, err := s.load(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.SubmittedAt != nil {
		return nil, ErrSessionSubmitted
	}
	if sess.examStatus == exam.StatusClosed {
		return nil, ErrExamClosed
	}
	q, err := s.examQuestion(ctx, sess.ExamID, questionID)
	if err != nil {
		return nil, err
	}
	fu, ok := q.Content.(question.FileUpload)
	if !ok {
		return nil, apperr.Invalidf("question_id", "question %s does not accept uploads", questionID)
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, apperr.Invalid("filename", "is required")
	}
	if !allowedExt(fu.AllowedTypes, path.Ext(filename)) {
		return nil, apperr.Invalidf("filename", "file type of %q is not allowed", filename)
	}
	if s.store == nil {
		return nil, storage.ErrStorageDisabled
	}

	objectPath := storage.UploadPath(sessionID, questionID, filename)
	url, err := s.store.PresignPut(ctx, objectPath, s.uploadTTL)
	if err != nil {
		return nil, err
	}
	return &Upload{Path: objectPath, URL: url, ExpiresAt: s.now().Add(s.uploadTTL)}, nil
}

func allowedExt(allowed []string, ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), ".")) == ext {
			return true
		}
	}
	return false
}
