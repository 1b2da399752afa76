package exam

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"examhub/internal/apperr"
	"examhub/internal/question"

	"github.com/google/uuid"
)

type Section struct {
	ID          string `json:"id"`
	ExamID      string `json:"exam_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OrderIndex  int    `json:"order_index"`
}

type SectionInput struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	OrderIndex  int      `json:"order_index"`
	QuestionIDs []string `json:"question_ids"`
}

type SectionWithQuestions struct {
	Section
	Questions []question.Question `json:"questions"`
}

// Composition is the question layout of an exam. Questions holds the
// assignments outside any section; an exam without sections keeps all of its
// questions there.
type Composition struct {
	ExamID    string                 `json:"exam_id"`
	Sections  []SectionWithQuestions `json:"sections"`
	Questions []question.Question    `json:"questions"`
}

type Placement struct {
	SectionID string
	Question  question.Question
}

// Placements lists every question of the exam in display order, sections
// first.
func (c *Composition) Placements() []Placement {
	out := make([]Placement, 0, len(c.Questions))
	for _, sec := range c.Sections {
		for _, q := range sec.Questions {
			out = append(out, Placement{SectionID: sec.ID, Question: q})
		}
	}
	for _, q := range c.Questions {
		out = append(out, Placement{Question: q})
	}
	return out
}

// SaveComposition replaces all sections and assignments of a draft exam in
// one transaction. Question order inside a section follows the order of its
// QuestionIDs.
func (s *Service) SaveComposition(ctx context.Context, ownerID, examID string, sections []SectionInput) (*Composition, error) {
	if err := validateSections(sections); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save composition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := loadOwned(ctx, tx, examID, ownerID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusDraft {
		return nil, ErrExamNotDraft
	}

	existing, err := loadSections(ctx, tx, examID)
	if err != nil {
		return nil, err
	}
	reusable := make(map[string]bool, len(existing))
	for _, sec := range existing {
		reusable[sec.ID] = true
	}

	for i, sec := range sections {
		for _, qid := range sec.QuestionIDs {
			ok, err := usableQuestion(ctx, tx, ownerID, qid)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, apperr.Invalidf(fmt.Sprintf("sections[%d].question_ids", i), "question %s does not exist", qid)
			}
		}
	}

	if err := clearComposition(ctx, tx, examID); err != nil {
		return nil, err
	}

	for _, sec := range sortSections(sections) {
		id := strings.TrimSpace(sec.ID)
		if !reusable[id] {
			id = uuid.NewString()
		}
		reusable[id] = false
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_sections (id, exam_id, title, description, order_index)
			VALUES ($1, $2, $3, $4, $5)
		`, id, examID, strings.TrimSpace(sec.Title), nullString(strings.TrimSpace(sec.Description)), sec.OrderIndex); err != nil {
			return nil, fmt.Errorf("insert section: %w", err)
		}
		for pos, qid := range sec.QuestionIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO exam_questions (exam_id, question_id, section_id, order_index)
				VALUES ($1, $2, $3, $4)
			`, examID, qid, id, pos); err != nil {
				return nil, fmt.Errorf("insert section question: %w", err)
			}
		}
	}

	if err := s.touch(ctx, tx, examID); err != nil {
		return nil, err
	}
	comp, err := LoadComposition(ctx, tx, examID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save composition: %w", err)
	}
	return comp, nil
}

// AssignQuestions replaces the composition of a draft exam with a flat,
// unsectioned list in the given order.
func (s *Service) AssignQuestions(ctx context.Context, ownerID, examID string, questionIDs []string) (*Composition, error) {
	seen := make(map[string]struct{}, len(questionIDs))
	for _, qid := range questionIDs {
		if strings.TrimSpace(qid) == "" {
			return nil, apperr.Invalid("question_ids", "must not contain empty ids")
		}
		if _, dup := seen[qid]; dup {
			return nil, apperr.Invalidf("question_ids", "question %s appears more than once", qid)
		}
		seen[qid] = struct{}{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin assign questions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := loadOwned(ctx, tx, examID, ownerID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusDraft {
		return nil, ErrExamNotDraft
	}
	for _, qid := range questionIDs {
		ok, err := usableQuestion(ctx, tx, ownerID, qid)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Invalidf("question_ids", "question %s does not exist", qid)
		}
	}

	if err := clearComposition(ctx, tx, examID); err != nil {
		return nil, err
	}
	for pos, qid := range questionIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_questions (exam_id, question_id, section_id, order_index)
			VALUES ($1, $2, NULL, $3)
		`, examID, qid, pos); err != nil {
			return nil, fmt.Errorf("insert exam question: %w", err)
		}
	}

	if err := s.touch(ctx, tx, examID); err != nil {
		return nil, err
	}
	comp, err := LoadComposition(ctx, tx, examID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign questions: %w", err)
	}
	return comp, nil
}

func (s *Service) GetComposition(ctx context.Context, ownerID, examID string) (*Composition, error) {
	if _, err := loadOwned(ctx, s.db, examID, ownerID); err != nil {
		return nil, err
	}
	return LoadComposition(ctx, s.db, examID)
}

// LoadComposition reads the sections and question assignments of an exam.
// Ownership is not checked.
func LoadComposition(ctx context.Context, q execQueryable, examID string) (*Composition, error) {
	sections, err := loadSections(ctx, q, examID)
	if err != nil {
		return nil, err
	}

	out := &Composition{
		ExamID:    examID,
		Sections:  make([]SectionWithQuestions, len(sections)),
		Questions: []question.Question{},
	}
	index := make(map[string]int, len(sections))
	for i, sec := range sections {
		out.Sections[i] = SectionWithQuestions{Section: sec, Questions: []question.Question{}}
		index[sec.ID] = i
	}

	rows, err := q.QueryContext(ctx, `
		SELECT eq.section_id, `+question.Columns("q")+`
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1
		ORDER BY eq.order_index, q.id
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sectionID sql.NullString
		item, err := question.Scan(withPrefix(rows, &sectionID))
		if err != nil {
			return nil, fmt.Errorf("scan exam question: %w", err)
		}
		if i, ok := index[sectionID.String]; sectionID.Valid && ok {
			out.Sections[i].Questions = append(out.Sections[i].Questions, *item)
			continue
		}
		out.Questions = append(out.Questions, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam questions: %w", err)
	}
	return out, nil
}

// InExam reports whether questionID is assigned to examID.
func InExam(ctx context.Context, q queryable, examID, questionID string) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM exam_questions WHERE exam_id = $1 AND question_id = $2
		)
	`, examID, questionID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check exam question: %w", err)
	}
	return ok, nil
}

func validateSections(sections []SectionInput) error {
	n := len(sections)
	orders := make([]bool, n)
	seen := make(map[string]int)
	for i, sec := range sections {
		field := fmt.Sprintf("sections[%d]", i)
		if strings.TrimSpace(sec.Title) == "" {
			return apperr.Invalid(field+".title", "is required")
		}
		if sec.OrderIndex < 0 || sec.OrderIndex >= n || orders[sec.OrderIndex] {
			return apperr.Invalidf(field+".order_index", "order indexes must be a permutation of 0..%d", n-1)
		}
		orders[sec.OrderIndex] = true
		for _, qid := range sec.QuestionIDs {
			if strings.TrimSpace(qid) == "" {
				return apperr.Invalid(field+".question_ids", "must not contain empty ids")
			}
			if prev, dup := seen[qid]; dup {
				return apperr.Invalidf(field+".question_ids", "question %s is already placed in sections[%d]", qid, prev)
			}
			seen[qid] = i
		}
	}
	return nil
}

func sortSections(in []SectionInput) []SectionInput {
	out := append([]SectionInput(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

// usableQuestion accepts the owner's own questions and questions shared with
// one of the owner's groups.
func usableQuestion(ctx context.Context, q queryable, ownerID, questionID string) (bool, error) {
	var usable bool
	if err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM questions q WHERE q.id = $1 AND `+question.AccessibleTo("q", "$2")+`
		)
	`, questionID, ownerID).Scan(&usable); err != nil {
		return false, fmt.Errorf("check question %s: %w", questionID, err)
	}
	return usable, nil
}

func clearComposition(ctx context.Context, q execQueryable, examID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("clear exam questions: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM exam_sections WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("clear exam sections: %w", err)
	}
	return nil
}

func loadSections(ctx context.Context, q execQueryable, examID string) ([]Section, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, exam_id, title, description, order_index
		FROM exam_sections
		WHERE exam_id = $1
		ORDER BY order_index
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}
	defer rows.Close()

	out := make([]Section, 0)
	for rows.Next() {
		var (
			sec  Section
			desc sql.NullString
		)
		if err := rows.Scan(&sec.ID, &sec.ExamID, &sec.Title, &desc, &sec.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sec.Description = desc.String
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return out, nil
}

func (s *Service) touch(ctx context.Context, q execQueryable, examID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE exams SET updated_at = $2 WHERE id = $1`, examID, s.now()); err != nil {
		return fmt.Errorf("touch exam: %w", err)
	}
	return nil
}

type prefixedScanner struct {
	rows   *sql.Rows
	prefix []any
}

func withPrefix(rows *sql.Rows, prefix ...any) prefixedScanner {
	return prefixedScanner{rows: rows, prefix: prefix}
}

func (p prefixedScanner) Scan(dest ...any) error {
	return p.rows.Scan(append(append([]any{}, p.prefix...), dest...)...)
}
