// Package report grades sessions on read and summarises exams for teachers.
// Nothing here writes; scores are always derived from the stored answers.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"examhub/internal/db"
	"examhub/internal/exam"
	"examhub/internal/question"
	"examhub/internal/scoring"
	"examhub/internal/session"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Participant struct {
	SessionID     string     `json:"session_id"`
	StudentName   string     `json:"student_name"`
	StudentEmail  string     `json:"student_email"`
	StartedAt     time.Time  `json:"started_at"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	TabLeaveCount int        `json:"tab_leave_count"`
}

type QuestionResult struct {
	QuestionID string        `json:"question_id"`
	SectionID  string        `json:"section_id,omitempty"`
	Title      string        `json:"title"`
	Type       question.Type `json:"type"`
	Max        int           `json:"max"`
	Auto       *int          `json:"auto"`
	Awarded    *int          `json:"awarded"`
	Effective  int           `json:"effective"`
	Reason     string        `json:"reason"`
	Answered   bool          `json:"answered"`
}

type SessionReport struct {
	ExamID      string           `json:"exam_id"`
	ExamTitle   string           `json:"exam_title"`
	Participant Participant      `json:"participant"`
	Questions   []QuestionResult `json:"questions"`
	Totals      scoring.Summary  `json:"totals"`
}

type ExamSummary struct {
	ExamID       string  `json:"exam_id"`
	Title        string  `json:"title"`
	MaxPoints    int     `json:"max_points"`
	Participants int     `json:"participants"`
	Submitted    int     `json:"submitted"`
	AverageScore float64 `json:"average_score"`
	HighestScore int     `json:"highest_score"`
	LowestScore  int     `json:"lowest_score"`
}

type storedAnswer struct {
	content question.Answer
	awarded *int
}

// grade scores every placed question of comp against answers, keyed by
// question id.
func grade(comp *exam.Composition, answers map[string]storedAnswer) ([]QuestionResult, scoring.Summary) {
	placements := comp.Placements()
	results := make([]QuestionResult, 0, len(placements))
	entries := make([]scoring.Entry, 0, len(placements))
	for _, p := range placements {
		q := p.Question
		a, answered := answers[q.ID]
		r := scoring.Score(q.Content, a.content, q.Points)
		effective := scoring.Effective(a.awarded, r)
		results = append(results, QuestionResult{
			QuestionID: q.ID,
			SectionID:  p.SectionID,
			Title:      q.Title,
			Type:       q.Type,
			Max:        q.Points,
			Auto:       r.Points,
			Awarded:    a.awarded,
			Effective:  effective,
			Reason:     r.Reason,
			Answered:   answered,
		})
		entries = append(entries, scoring.Entry{QuestionID: q.ID, SectionID: p.SectionID, Max: q.Points, Effective: effective})
	}
	return results, scoring.Aggregate(entries)
}

func (s *Service) ownedExam(ctx context.Context, ownerID, examID string) (*exam.Exam, error) {
	e, err := exam.Scan(s.db.QueryRowContext(ctx, `SELECT `+exam.Columns("")+` FROM exams WHERE id = $1`, examID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, exam.ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if e.OwnerID != ownerID {
		return nil, exam.ErrNotOwner
	}
	return e, nil
}

func scanParticipant(scanner interface{ Scan(dest ...any) error }) (*Participant, error) {
	var p Participant
	if err := scanner.Scan(
		&p.SessionID,
		&p.StudentName,
		&p.StudentEmail,
		db.ScanTime(&p.StartedAt),
		db.ScanNullTime(&p.SubmittedAt),
		&p.TabLeaveCount,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

const participantColumns = "id, student_name, student_email, started_at, submitted_at, tab_leave_count"

// loadAnswers returns stored answers keyed by session id and then question
// id. where filters on the answers (a) or sessions (s) table.
func (s *Service) loadAnswers(ctx context.Context, where string, arg string) (map[string]map[string]storedAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.session_id, a.question_id, a.content, a.points_awarded, q.type
		FROM answers a
		JOIN exam_sessions s ON s.id = a.session_id
		JOIN questions q ON q.id = a.question_id
		WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]storedAnswer)
	for rows.Next() {
		var (
			sessionID, questionID, qType string
			content                      []byte
			awarded                      sql.NullInt64
		)
		if err := rows.Scan(&sessionID, &questionID, &content, &awarded, &qType); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		var stored storedAnswer
		a, err := question.DecodeAnswer(question.Type(qType), content)
		if err != nil {
			return nil, fmt.Errorf("decode answer of %s/%s: %w", sessionID, questionID, err)
		}
		stored.content = a
		if awarded.Valid {
			v := int(awarded.Int64)
			stored.awarded = &v
		}
		if out[sessionID] == nil {
			out[sessionID] = make(map[string]storedAnswer)
		}
		out[sessionID][questionID] = stored
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

// SessionReport grades one session for the teacher who owns its exam.
func (s *Service) SessionReport(ctx context.Context, ownerID, sessionID string) (*SessionReport, error) {
	var examID string
	p, err := scanParticipant(withExamID(s.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+`, exam_id FROM exam_sessions WHERE id = $1
	`, sessionID), &examID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	e, err := s.ownedExam(ctx, ownerID, examID)
	if err != nil {
		return nil, err
	}
	comp, err := exam.LoadComposition(ctx, s.db, examID)
	if err != nil {
		return nil, err
	}
	answers, err := s.loadAnswers(ctx, "a.session_id = $1", sessionID)
	if err != nil {
		return nil, err
	}
	results, totals := grade(comp, answers[sessionID])
	return &SessionReport{
		ExamID:      e.ID,
		ExamTitle:   e.Title,
		Participant: *p,
		Questions:   results,
		Totals:      totals,
	}, nil
}

type examScores struct {
	exam         *exam.Exam
	composition  *exam.Composition
	participants []Participant
	reports      map[string][]QuestionResult
	totals       map[string]scoring.Summary
}

func (s *Service) scoreExam(ctx context.Context, ownerID, examID string) (*examScores, error) {
	e, err := s.ownedExam(ctx, ownerID, examID)
	if err != nil {
		return nil, err
	}
	comp, err := exam.LoadComposition(ctx, s.db, examID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM exam_sessions
		WHERE exam_id = $1
		ORDER BY started_at, id
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		participants = append(participants, *p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	rows.Close()

	answers, err := s.loadAnswers(ctx, "s.exam_id = $1", examID)
	if err != nil {
		return nil, err
	}
	out := &examScores{
		exam:         e,
		composition:  comp,
		participants: participants,
		reports:      make(map[string][]QuestionResult, len(participants)),
		totals:       make(map[string]scoring.Summary, len(participants)),
	}
	for _, p := range participants {
		results, totals := grade(comp, answers[p.SessionID])
		out.reports[p.SessionID] = results
		out.totals[p.SessionID] = totals
	}
	return out, nil
}

// ExamSummary reports participation and score statistics. Scores only cover
// submitted sessions.
func (s *Service) ExamSummary(ctx context.Context, ownerID, examID string) (*ExamSummary, error) {
	scores, err := s.scoreExam(ctx, ownerID, examID)
	if err != nil {
		return nil, err
	}
	out := &ExamSummary{
		ExamID:       scores.exam.ID,
		Title:        scores.exam.Title,
		Participants: len(scores.participants),
	}
	_, empty := grade(scores.composition, nil)
	out.MaxPoints = empty.Exam.Max

	sum := 0
	for _, p := range scores.participants {
		if p.SubmittedAt == nil {
			continue
		}
		total := scores.totals[p.SessionID].Exam.Awarded
		if out.Submitted == 0 || total > out.HighestScore {
			out.HighestScore = total
		}
		if out.Submitted == 0 || total < out.LowestScore {
			out.LowestScore = total
		}
		out.Submitted++
		sum += total
	}
	if out.Submitted > 0 {
		out.AverageScore = math.Round(float64(sum)/float64(out.Submitted)*100) / 100
	}
	return out, nil
}

type examIDScanner struct {
	row    *sql.Row
	examID *string
}

func withExamID(row *sql.Row, examID *string) examIDScanner {
	return examIDScanner{row: row, examID: examID}
}

func (s examIDScanner) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.examID)...)
}
