package scoring

import (
	"strings"

	"examhub/internal/question"

	"golang.org/x/text/unicode/norm"
)

const (
	ReasonCorrect    = "correct"
	ReasonPartial    = "partial"
	ReasonWrong      = "wrong"
	ReasonUnanswered = "unanswered"
	ReasonManual     = "manual"
	ReasonMalformed  = "malformed_payload"
)

// Result is the auto-grading outcome for one question. Points is nil when the
// question type needs a teacher's judgement. Correct and Total count the graded
// units (options, statements, blanks or pairs) where that is meaningful.
type Result struct {
	Points  *int   `json:"points"`
	Reason  string `json:"reason"`
	Correct int    `json:"correct,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// Score grades answer against content worth points. A nil answer means the
// student never saved anything for the question.
func Score(content question.Content, answer question.Answer, points int) Result {
	if points < 0 {
		points = 0
	}
	if content == nil || !content.Type().AutoGradable() {
		return Result{Reason: ReasonManual}
	}
	if answer == nil {
		return scored(0, ReasonUnanswered, 0, units(content))
	}
	if answer.Type() != content.Type() {
		return scored(0, ReasonMalformed, 0, units(content))
	}

	switch c := content.(type) {
	case question.MultipleChoice:
		return scoreMultipleChoice(c, answer.(question.MultipleChoiceAnswer), points)
	case question.KPrim:
		return scoreKPrim(c, answer.(question.KPrimAnswer), points)
	case question.Cloze:
		return scoreCloze(c, answer.(question.ClozeAnswer), points)
	case question.Matching:
		return scoreMatching(c, answer.(question.MatchingAnswer), points)
	default:
		return Result{Reason: ReasonManual}
	}
}

// Effective is the points a question counts with: the teacher's award when
// present, otherwise the automatic score, otherwise zero.
func Effective(awarded *int, r Result) int {
	if awarded != nil {
		return *awarded
	}
	if r.Points != nil {
		return *r.Points
	}
	return 0
}

func scoreMultipleChoice(c question.MultipleChoice, a question.MultipleChoiceAnswer, points int) Result {
	selected := strings.TrimSpace(a.SelectedOptionID)
	if selected == "" {
		return scored(0, ReasonUnanswered, 0, 1)
	}
	for _, o := range c.Options {
		if o.ID == selected && o.IsCorrect {
			return scored(points, ReasonCorrect, 1, 1)
		}
	}
	return scored(0, ReasonWrong, 0, 1)
}

func scoreKPrim(c question.KPrim, a question.KPrimAnswer, points int) Result {
	judged := make(map[string]bool, len(a.Answers))
	for _, s := range a.Answers {
		if _, seen := judged[s.StatementID]; !seen {
			judged[s.StatementID] = s.Selected
		}
	}
	if len(judged) == 0 {
		return scored(0, ReasonUnanswered, 0, len(c.Statements))
	}

	correct := 0
	for _, s := range c.Statements {
		if v, ok := judged[s.ID]; ok && v == s.IsTrue {
			correct++
		}
	}
	total := len(c.Statements)
	switch {
	case correct == total:
		return scored(points, ReasonCorrect, correct, total)
	case correct == total-1:
		return scored(roundHalfUp(points, 1, 2), ReasonPartial, correct, total)
	default:
		return scored(0, ReasonWrong, correct, total)
	}
}

func scoreCloze(c question.Cloze, a question.ClozeAnswer, points int) Result {
	given := make(map[string]string, len(a.Answers))
	for _, b := range a.Answers {
		if _, seen := given[b.BlankID]; !seen {
			given[b.BlankID] = b.Text
		}
	}

	correct := 0
	for _, b := range c.Blanks {
		text, ok := given[b.ID]
		if !ok {
			continue
		}
		got := normalizeBlank(text, b.CaseSensitive)
		if got == "" {
			continue
		}
		for _, accepted := range b.CorrectAnswers {
			if normalizeBlank(accepted, b.CaseSensitive) == got {
				correct++
				break
			}
		}
	}
	return proportional(points, correct, len(c.Blanks), len(given) == 0)
}

func scoreMatching(c question.Matching, a question.MatchingAnswer, points int) Result {
	matched := make(map[string]string, len(a.Matches))
	for _, m := range a.Matches {
		if _, seen := matched[m.LeftID]; !seen {
			matched[m.LeftID] = m.RightID
		}
	}

	correct := 0
	for _, p := range c.Pairs {
		if right, ok := matched[p.ID]; ok && right == p.ID {
			correct++
		}
	}
	return proportional(points, correct, len(c.Pairs), len(matched) == 0)
}

func proportional(points, correct, total int, empty bool) Result {
	if empty {
		return scored(0, ReasonUnanswered, 0, total)
	}
	reason := ReasonPartial
	switch correct {
	case total:
		reason = ReasonCorrect
	case 0:
		reason = ReasonWrong
	}
	return scored(roundHalfUp(points, correct, total), reason, correct, total)
}

func normalizeBlank(s string, caseSensitive bool) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

// roundHalfUp returns points*num/den rounded to the nearest integer with
// halves rounded up, without leaving integer arithmetic.
func roundHalfUp(points, num, den int) int {
	if den <= 0 || num <= 0 || points <= 0 {
		return 0
	}
	return (2*points*num + den) / (2 * den)
}

func units(c question.Content) int {
	switch v := c.(type) {
	case question.MultipleChoice:
		return 1
	case question.KPrim:
		return len(v.Statements)
	case question.Cloze:
		return len(v.Blanks)
	case question.Matching:
		return len(v.Pairs)
	default:
		return 0
	}
}

func scored(points int, reason string, correct, total int) Result {
	return Result{Points: &points, Reason: reason, Correct: correct, Total: total}
}
