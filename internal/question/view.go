package question

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const copySuffix = " (Kopie)"

type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type MultipleChoiceView struct {
	Question string       `json:"question"`
	Options  []OptionView `json:"options"`
}

type FreeTextView struct {
	Question       string `json:"question"`
	ExpectedLength string `json:"expected_length,omitempty"`
}

type StatementView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type KPrimView struct {
	Question   string          `json:"question"`
	Statements []StatementView `json:"statements"`
}

type BlankView struct {
	ID string `json:"id"`
}

type ClozeView struct {
	Question string      `json:"question"`
	Text     string      `json:"text"`
	Blanks   []BlankView `json:"blanks"`
}

type MatchItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type MatchingView struct {
	Question string      `json:"question"`
	Lefts    []MatchItem `json:"lefts"`
	Rights   []MatchItem `json:"rights"`
}

type EssayView struct {
	Question string `json:"question"`
	MinWords *int   `json:"min_words,omitempty"`
	MaxWords *int   `json:"max_words,omitempty"`
}

// Redact returns the student-facing form of c with every field that reveals
// the expected answer removed. rightID names the right-hand items of a
// matching question (see MatchTokens.RightID) and must not return the pair
// id itself. File upload content carries no key and is returned as is.
func Redact(c Content, rightID func(pairID string) string) any {
	switch v := c.(type) {
	case MultipleChoice:
		out := MultipleChoiceView{Question: v.Question, Options: make([]OptionView, len(v.Options))}
		for i, o := range v.Options {
			out.Options[i] = OptionView{ID: o.ID, Text: o.Text}
		}
		return out
	case FreeText:
		return FreeTextView{Question: v.Question, ExpectedLength: v.ExpectedLength}
	case FileUpload:
		return v
	case KPrim:
		out := KPrimView{Question: v.Question, Statements: make([]StatementView, len(v.Statements))}
		for i, s := range v.Statements {
			out.Statements[i] = StatementView{ID: s.ID, Text: s.Text}
		}
		return out
	case Cloze:
		out := ClozeView{Question: v.Question, Text: v.Text, Blanks: make([]BlankView, len(v.Blanks))}
		for i, b := range v.Blanks {
			out.Blanks[i] = BlankView{ID: b.ID}
		}
		return out
	case Matching:
		out := MatchingView{
			Question: v.Question,
			Lefts:    make([]MatchItem, len(v.Pairs)),
			Rights:   make([]MatchItem, len(v.Pairs)),
		}
		for i, p := range v.Pairs {
			out.Lefts[i] = MatchItem{ID: p.ID, Text: p.Left}
			out.Rights[i] = MatchItem{ID: rightID(p.ID), Text: p.Right}
		}
		sort.SliceStable(out.Rights, func(i, j int) bool { return out.Rights[i].Text < out.Rights[j].Text })
		return out
	case Essay:
		return EssayView{Question: v.Question, MinWords: v.MinWords, MaxWords: v.MaxWords}
	default:
		return nil
	}
}

// CloneAsUnshared copies q for newOwner under a fresh id. Subject tagging is
// dropped and the content is carried over unchanged.
func CloneAsUnshared(q Question, newOwner string, now time.Time) (Question, error) {
	raw, err := json.Marshal(q.Content)
	if err != nil {
		return Question{}, fmt.Errorf("marshal content: %w", err)
	}
	content, err := DecodeContent(q.Type, raw)
	if err != nil {
		return Question{}, fmt.Errorf("decode content: %w", err)
	}

	out := q
	out.ID = uuid.NewString()
	out.OwnerID = newOwner
	out.Title = q.Title + copySuffix
	out.Content = content
	out.SubjectID = nil
	out.CreatedAt = now
	out.UpdatedAt = now
	return out, nil
}
