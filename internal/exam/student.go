package exam

import (
	"context"

	"examhub/internal/question"
)

type StudentQuestion struct {
	ID      string        `json:"id"`
	Type    question.Type `json:"type"`
	Title   string        `json:"title"`
	Points  int           `json:"points"`
	Content any           `json:"content"`
}

type StudentSection struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Questions   []StudentQuestion `json:"questions"`
}

// StudentExam is what a participant sees of an active exam. Question content
// is redacted so that no answer key leaves the server.
type StudentExam struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	TimeLimitMinutes *int              `json:"time_limit_minutes,omitempty"`
	LockOnTabLeave   bool              `json:"lock_on_tab_leave"`
	Sections         []StudentSection  `json:"sections"`
	Questions        []StudentQuestion `json:"questions"`
}

func (s *Service) StudentView(ctx context.Context, examID string) (*StudentExam, error) {
	e, err := load(ctx, s.db, examID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusActive {
		return nil, ErrExamNotActive
	}
	comp, err := LoadComposition(ctx, s.db, examID)
	if err != nil {
		return nil, err
	}

	out := &StudentExam{
		ID:               e.ID,
		Title:            e.Title,
		Description:      e.Description,
		TimeLimitMinutes: e.TimeLimitMinutes,
		LockOnTabLeave:   e.LockOnTabLeave,
		Sections:         make([]StudentSection, 0, len(comp.Sections)),
		Questions:        s.redactAll(e.ID, comp.Questions),
	}
	for _, sec := range comp.Sections {
		out.Sections = append(out.Sections, StudentSection{
			ID:          sec.ID,
			Title:       sec.Title,
			Description: sec.Description,
			Questions:   s.redactAll(e.ID, sec.Questions),
		})
	}
	return out, nil
}

func (s *Service) redactAll(examID string, in []question.Question) []StudentQuestion {
	out := make([]StudentQuestion, 0, len(in))
	for _, q := range in {
		out = append(out, StudentQuestion{
			ID:      q.ID,
			Type:    q.Type,
			Title:   q.Title,
			Points:  q.Points,
			Content: question.Redact(q.Content, s.tokens.RightID(examID, q.ID)),
		})
	}
	return out
}
