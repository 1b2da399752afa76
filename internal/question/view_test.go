package question

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRedactHidesAnswerKey(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		hidden  []string
	}{
		{
			name:    "multiple choice",
			content: MultipleChoice{Question: "q", Options: []Option{{ID: "a", Text: "A", IsCorrect: true}, {ID: "b", Text: "B"}}},
			hidden:  []string{"is_correct"},
		},
		{
			name:    "kprim",
			content: KPrim{Question: "q", Statements: []Statement{{ID: "1", Text: "a", IsTrue: true}, {ID: "2", Text: "b"}, {ID: "3", Text: "c"}, {ID: "4", Text: "d"}}},
			hidden:  []string{"is_true"},
		},
		{
			name:    "cloze",
			content: Cloze{Question: "q", Text: "{{a}}", Blanks: []Blank{{ID: "a", CorrectAnswers: []string{"Berlin"}, CaseSensitive: true}}},
			hidden:  []string{"correct_answers", "Berlin", "case_sensitive"},
		},
		{
			name:    "free text",
			content: FreeText{Question: "q", SampleAnswer: "model answer"},
			hidden:  []string{"sample_answer", "model answer"},
		},
		{
			name:    "essay",
			content: Essay{Question: "q", Rubric: "secret rubric"},
			hidden:  []string{"rubric"},
		},
		{
			name:    "matching",
			content: Matching{Question: "q", Pairs: []Pair{{ID: "p1", Left: "DE", Right: "Berlin"}, {ID: "p2", Left: "FR", Right: "Paris"}}},
			hidden:  []string{"pairs"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(Redact(tc.content, NewMatchTokens("k").RightID("e1", "q1")))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			for _, h := range tc.hidden {
				if strings.Contains(string(raw), h) {
					t.Fatalf("redacted view leaks %q: %s", h, raw)
				}
			}
		})
	}
}

func TestRedactMatchingSortsRights(t *testing.T) {
	tokens := NewMatchTokens("k")
	v, ok := Redact(Matching{Question: "q", Pairs: []Pair{
		{ID: "p1", Left: "1", Right: "zeta"},
		{ID: "p2", Left: "2", Right: "alpha"},
		{ID: "p3", Left: "3", Right: "mu"},
	}}, tokens.RightID("e1", "q1")).(MatchingView)
	if !ok {
		t.Fatalf("expected MatchingView")
	}
	if v.Lefts[0].ID != "p1" || v.Lefts[2].ID != "p3" {
		t.Fatalf("lefts should keep authoring order: %+v", v.Lefts)
	}
	want := []string{"alpha", "mu", "zeta"}
	for i, w := range want {
		if v.Rights[i].Text != w {
			t.Fatalf("expected rights sorted by text, got %+v", v.Rights)
		}
	}
	for _, r := range v.Rights {
		for _, l := range v.Lefts {
			if r.ID == l.ID {
				t.Fatalf("right item %q shares its id with a left item", r.ID)
			}
		}
	}
	if v.Rights[0].ID != tokens.Token("e1", "q1", "p2") {
		t.Fatalf("expected right ids to be keyed tokens, got %+v", v.Rights)
	}
}

func TestCloneAsUnshared(t *testing.T) {
	subject := "subj-1"
	src := Question{
		ID:         "q-1",
		OwnerID:    "teacher-a",
		Type:       TypeCloze,
		Title:      "Capitals",
		Content:    Cloze{Question: "Fill", Text: "{{a}}", Blanks: []Blank{{ID: "a", CorrectAnswers: []string{"Berlin"}}}},
		Points:     4,
		BloomLevel: "K2",
		SubjectID:  &subject,
		IsShared:   true,
	}
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clone, err := CloneAsUnshared(src, "teacher-b", now)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if clone.ID == src.ID || clone.ID == "" {
		t.Fatalf("expected fresh id, got %q", clone.ID)
	}
	if clone.OwnerID != "teacher-b" || clone.SubjectID != nil {
		t.Fatalf("expected new owner without subject, got %+v", clone)
	}
	if clone.Title != "Capitals (Kopie)" || clone.Points != 4 || clone.BloomLevel != "K2" {
		t.Fatalf("unexpected clone metadata %+v", clone)
	}
	a, _ := json.Marshal(src.Content)
	b, _ := json.Marshal(clone.Content)
	if string(a) != string(b) {
		t.Fatalf("content changed: %s vs %s", a, b)
	}
	clone.Content.(Cloze).Blanks[0].CorrectAnswers[0] = "Bonn"
	if src.Content.(Cloze).Blanks[0].CorrectAnswers[0] != "Berlin" {
		t.Fatalf("clone shares memory with source")
	}
}
