package exam

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"examhub/internal/apperr"
	"examhub/internal/db/dbtest"
	"examhub/internal/question"
)

const mcContent = `{"question":"2+2?","options":[{"id":"a","text":"4","is_correct":true},{"id":"b","text":"5","is_correct":false}]}`

type fakeMailer struct {
	sent []string
	fail map[string]bool
}

func (m *fakeMailer) SendInvite(ctx context.Context, email, examTitle, link string) error {
	if m.fail[email] {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, email)
	return nil
}

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	conn := dbtest.New(t)
	return NewService(conn, nil, "https://exams.example.test/"), conn
}

func seedQuestions(t *testing.T, conn *sql.DB, owner string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		dbtest.SeedQuestion(t, conn, id, owner, "multiple_choice", mcContent, 2)
	}
}

func questionIDs(qs []question.Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateAndUpdateExam(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	limit := 45

	e, err := svc.Create(ctx, CreateInput{OwnerID: "t1", Title: "  Midterm ", TimeLimitMinutes: &limit, LockOnTabLeave: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Status != StatusDraft || e.Title != "Midterm" || e.TimeLimitMinutes == nil || *e.TimeLimitMinutes != 45 || !e.LockOnTabLeave {
		t.Fatalf("unexpected exam %+v", e)
	}

	updated, err := svc.Update(ctx, UpdateInput{ID: e.ID, CreateInput: CreateInput{OwnerID: "t1", Title: "Final", Description: "room 4"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Final" || updated.Description != "room 4" || updated.TimeLimitMinutes != nil {
		t.Fatalf("unexpected update %+v", updated)
	}

	if _, err := svc.Activate(ctx, "t1", e.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	_, err = svc.Update(ctx, UpdateInput{ID: e.ID, CreateInput: CreateInput{OwnerID: "t1", Title: "Late edit"}})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state when editing active exam, got %v", err)
	}
}

func TestCreateExamValidation(t *testing.T) {
	svc, _ := newTestService(t)
	zero := 0
	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{name: "missing title", in: CreateInput{OwnerID: "t1"}, field: "title"},
		{name: "missing owner", in: CreateInput{Title: "x"}, field: "owner_id"},
		{name: "zero time limit", in: CreateInput{OwnerID: "t1", Title: "x", TimeLimitMinutes: &zero}, field: "time_limit_minutes"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.in)
			var verr *apperr.ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestExamTransitions(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "draft", "t1", "draft", false)
	dbtest.SeedExam(t, conn, "closed", "t1", "closed", false)

	if _, err := svc.Close(ctx, "t1", "draft"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected close on draft to fail with invalid state, got %v", err)
	}
	if _, err := svc.Activate(ctx, "t1", "closed"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected activate on closed to fail with invalid state, got %v", err)
	}
	if _, err := svc.Activate(ctx, "other", "draft"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign exam, got %v", err)
	}
	if _, err := svc.Activate(ctx, "t1", "missing"); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	e, err := svc.Activate(ctx, "t1", "draft")
	if err != nil || e.Status != StatusActive {
		t.Fatalf("activate: %v %+v", err, e)
	}
	e, err = svc.Close(ctx, "t1", "draft")
	if err != nil || e.Status != StatusClosed {
		t.Fatalf("close: %v %+v", err, e)
	}
}

func TestSaveCompositionRoundTrip(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)
	seedQuestions(t, conn, "t1", "q1", "q2", "q3")

	saved, err := svc.SaveComposition(ctx, "t1", "e1", []SectionInput{
		{Title: "B", OrderIndex: 1, QuestionIDs: []string{"q3"}},
		{Title: "A", OrderIndex: 0, QuestionIDs: []string{"q2", "q1"}},
	})
	if err != nil {
		t.Fatalf("save composition: %v", err)
	}

	got, err := svc.GetComposition(ctx, "t1", "e1")
	if err != nil {
		t.Fatalf("get composition: %v", err)
	}
	if len(got.Sections) != 2 || got.Sections[0].Title != "A" || got.Sections[1].Title != "B" {
		t.Fatalf("unexpected sections %+v", got.Sections)
	}
	if ids := questionIDs(got.Sections[0].Questions); !equalIDs(ids, []string{"q2", "q1"}) {
		t.Fatalf("unexpected order in A: %v", ids)
	}
	if ids := questionIDs(got.Sections[1].Questions); !equalIDs(ids, []string{"q3"}) {
		t.Fatalf("unexpected questions in B: %v", ids)
	}
	if len(got.Questions) != 0 {
		t.Fatalf("expected no unsectioned questions, got %d", len(got.Questions))
	}
	if saved.Sections[0].ID != got.Sections[0].ID {
		t.Fatalf("expected saved and loaded composition to match")
	}

	// Saving again with a known section id keeps that id and drops the rest.
	keep := got.Sections[1].ID
	again, err := svc.SaveComposition(ctx, "t1", "e1", []SectionInput{
		{ID: keep, Title: "Only", OrderIndex: 0, QuestionIDs: []string{"q1"}},
	})
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if len(again.Sections) != 1 || again.Sections[0].ID != keep || !equalIDs(questionIDs(again.Sections[0].Questions), []string{"q1"}) {
		t.Fatalf("unexpected replacement %+v", again.Sections)
	}
}

func TestSaveCompositionIsAtomic(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)
	seedQuestions(t, conn, "t1", "q1", "q2")

	if _, err := svc.SaveComposition(ctx, "t1", "e1", []SectionInput{{Title: "A", OrderIndex: 0, QuestionIDs: []string{"q1", "q2"}}}); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	_, err := svc.SaveComposition(ctx, "t1", "e1", []SectionInput{
		{Title: "X", OrderIndex: 0, QuestionIDs: []string{"q2"}},
		{Title: "Y", OrderIndex: 1, QuestionIDs: []string{"missing"}},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	got, err := svc.GetComposition(ctx, "t1", "e1")
	if err != nil {
		t.Fatalf("get composition: %v", err)
	}
	if len(got.Sections) != 1 || got.Sections[0].Title != "A" || !equalIDs(questionIDs(got.Sections[0].Questions), []string{"q1", "q2"}) {
		t.Fatalf("composition changed after failed save: %+v", got.Sections)
	}
}

func TestSaveCompositionValidation(t *testing.T) {
	svc, conn := newTestService(t)
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)
	dbtest.SeedExam(t, conn, "live", "t1", "active", false)
	seedQuestions(t, conn, "t1", "q1", "q2")
	seedQuestions(t, conn, "t2", "foreign")

	tests := []struct {
		name     string
		examID   string
		sections []SectionInput
		kind     error
	}{
		{
			name:     "gap in order indexes",
			examID:   "e1",
			sections: []SectionInput{{Title: "A", OrderIndex: 0}, {Title: "B", OrderIndex: 2}},
			kind:     apperr.ErrValidation,
		},
		{
			name:     "repeated order index",
			examID:   "e1",
			sections: []SectionInput{{Title: "A", OrderIndex: 0}, {Title: "B", OrderIndex: 0}},
			kind:     apperr.ErrValidation,
		},
		{
			name:     "question in two sections",
			examID:   "e1",
			sections: []SectionInput{{Title: "A", OrderIndex: 0, QuestionIDs: []string{"q1"}}, {Title: "B", OrderIndex: 1, QuestionIDs: []string{"q1"}}},
			kind:     apperr.ErrValidation,
		},
		{
			name:     "blank title",
			examID:   "e1",
			sections: []SectionInput{{Title: "  ", OrderIndex: 0}},
			kind:     apperr.ErrValidation,
		},
		{
			name:     "private question of another teacher",
			examID:   "e1",
			sections: []SectionInput{{Title: "A", OrderIndex: 0, QuestionIDs: []string{"foreign"}}},
			kind:     apperr.ErrValidation,
		},
		{
			name:     "exam not draft",
			examID:   "live",
			sections: []SectionInput{{Title: "A", OrderIndex: 0, QuestionIDs: []string{"q2"}}},
			kind:     apperr.ErrInvalidState,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SaveComposition(context.Background(), "t1", tc.examID, tc.sections)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestAssignQuestionsFlatExam(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)
	seedQuestions(t, conn, "t1", "q1", "q2", "q3")

	if _, err := svc.SaveComposition(ctx, "t1", "e1", []SectionInput{{Title: "A", OrderIndex: 0, QuestionIDs: []string{"q1"}}}); err != nil {
		t.Fatalf("save composition: %v", err)
	}
	comp, err := svc.AssignQuestions(ctx, "t1", "e1", []string{"q3", "q1", "q2"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(comp.Sections) != 0 {
		t.Fatalf("expected sections to be removed, got %d", len(comp.Sections))
	}
	if ids := questionIDs(comp.Questions); !equalIDs(ids, []string{"q3", "q1", "q2"}) {
		t.Fatalf("unexpected order %v", ids)
	}
	if got := len(comp.Placements()); got != 3 {
		t.Fatalf("expected 3 placements, got %d", got)
	}

	if _, err := svc.AssignQuestions(ctx, "t1", "e1", []string{"q1", "q1"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected duplicate ids to be rejected, got %v", err)
	}
}

func TestDuplicateExam(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	seedQuestions(t, conn, "t1", "q1", "q2", "q3")

	src, err := svc.Create(ctx, CreateInput{OwnerID: "t1", Title: "Quiz", LockOnTabLeave: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.SaveComposition(ctx, "t1", src.ID, []SectionInput{
		{Title: "A", OrderIndex: 0, QuestionIDs: []string{"q1", "q2"}},
		{Title: "B", OrderIndex: 1, QuestionIDs: []string{"q3"}},
	}); err != nil {
		t.Fatalf("save composition: %v", err)
	}
	if _, err := svc.Activate(ctx, "t1", src.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO exam_sessions (id, exam_id, student_name, student_email, started_at) VALUES ('s1', $1, 'Ana', 'ana@example.test', CURRENT_TIMESTAMP)`, src.ID); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	dup, err := svc.Duplicate(ctx, "t1", src.ID)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if dup.ID == src.ID || dup.Title != "Quiz (Kopie)" || dup.Status != StatusDraft || !dup.LockOnTabLeave {
		t.Fatalf("unexpected copy %+v", dup)
	}

	orig, _ := svc.GetComposition(ctx, "t1", src.ID)
	copied, err := svc.GetComposition(ctx, "t1", dup.ID)
	if err != nil {
		t.Fatalf("get copy composition: %v", err)
	}
	if len(copied.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(copied.Sections))
	}
	for i := range copied.Sections {
		if copied.Sections[i].ID == orig.Sections[i].ID {
			t.Fatalf("section %d shares its id with the source", i)
		}
		if !equalIDs(questionIDs(copied.Sections[i].Questions), questionIDs(orig.Sections[i].Questions)) {
			t.Fatalf("section %d questions differ", i)
		}
	}

	var sessions int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM exam_sessions WHERE exam_id = $1`, dup.ID).Scan(&sessions); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if sessions != 0 {
		t.Fatalf("expected sessions not to be copied, got %d", sessions)
	}
}

func TestDeleteExam(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "live", "t1", "active", false)
	dbtest.SeedExam(t, conn, "old", "t1", "closed", false)
	seedQuestions(t, conn, "t1", "q1")
	dbtest.Assign(t, conn, "old", "q1", "", 0)

	if err := svc.Delete(ctx, "t1", "live"); !errors.Is(err, ErrExamActive) {
		t.Fatalf("expected active exam to be kept, got %v", err)
	}
	if err := svc.Delete(ctx, "t1", "old"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "old"); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected exam to be gone, got %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM exam_questions WHERE exam_id = 'old'`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("expected assignments to be removed, got %d (%v)", n, err)
	}
}

func TestActivateAndInvite(t *testing.T) {
	conn := dbtest.New(t)
	mailer := &fakeMailer{fail: map[string]bool{"down@example.test": true}}
	svc := NewService(conn, mailer, "https://exams.example.test/")
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)

	res, err := svc.ActivateAndInvite(context.Background(), "t1", "e1", []string{
		" Ana@Example.test ", "ana@example.test", "not-an-address", "down@example.test", "",
	})
	if err != nil {
		t.Fatalf("activate and invite: %v", err)
	}
	if res.Exam.Status != StatusActive {
		t.Fatalf("expected exam to be active, got %s", res.Exam.Status)
	}
	if res.Link != "https://exams.example.test/take/e1" {
		t.Fatalf("unexpected link %q", res.Link)
	}
	if !equalIDs(res.Sent, []string{"ana@example.test"}) {
		t.Fatalf("unexpected sent list %v", res.Sent)
	}
	if !equalIDs(res.Failed, []string{"down@example.test"}) {
		t.Fatalf("unexpected failed list %v", res.Failed)
	}
	if !equalIDs(res.Invalid, []string{"not-an-address"}) {
		t.Fatalf("unexpected invalid list %v", res.Invalid)
	}

	if _, err := svc.ActivateAndInvite(context.Background(), "t1", "e1", nil); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected second activation to fail, got %v", err)
	}
}

func TestActivateAndInviteWithoutMailer(t *testing.T) {
	svc, conn := newTestService(t)
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)

	res, err := svc.ActivateAndInvite(context.Background(), "t1", "e1", []string{"ana@example.test"})
	if err != nil {
		t.Fatalf("activate and invite: %v", err)
	}
	if res.Exam.Status != StatusActive || len(res.Failed) != 1 || len(res.Sent) != 0 {
		t.Fatalf("expected activation to stand while mail fails, got %+v", res)
	}
}

func TestStudentViewRedactsContent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)
	seedQuestions(t, conn, "t1", "q1")
	dbtest.Assign(t, conn, "e1", "q1", "", 0)

	if _, err := svc.StudentView(ctx, "e1"); !errors.Is(err, ErrExamNotActive) {
		t.Fatalf("expected draft exam to be hidden, got %v", err)
	}
	if _, err := svc.Activate(ctx, "t1", "e1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	view, err := svc.StudentView(ctx, "e1")
	if err != nil {
		t.Fatalf("student view: %v", err)
	}
	if len(view.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(view.Questions))
	}
	if _, ok := view.Questions[0].Content.(question.MultipleChoiceView); !ok {
		t.Fatalf("expected redacted view, got %T", view.Questions[0].Content)
	}
}

func TestStudentViewTokenizesMatchingRights(t *testing.T) {
	svc, conn := newTestService(t)
	tokens := question.NewMatchTokens("view-key")
	svc.WithMatchTokens(tokens)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "e1", "t1", "active", false)
	dbtest.SeedQuestion(t, conn, "qm", "t1", "matching",
		`{"question":"Match","pairs":[{"id":"p1","left":"DE","right":"Berlin"},{"id":"p2","left":"FR","right":"Paris"}]}`, 2)
	dbtest.Assign(t, conn, "e1", "qm", "", 0)

	view, err := svc.StudentView(ctx, "e1")
	if err != nil {
		t.Fatalf("student view: %v", err)
	}
	mv, ok := view.Questions[0].Content.(question.MatchingView)
	if !ok {
		t.Fatalf("expected matching view, got %T", view.Questions[0].Content)
	}
	for _, r := range mv.Rights {
		if r.ID == "p1" || r.ID == "p2" {
			t.Fatalf("right item exposes pair id %q", r.ID)
		}
	}
	if mv.Rights[0].Text != "Berlin" || mv.Rights[0].ID != tokens.Token("e1", "qm", "p1") {
		t.Fatalf("unexpected rights %+v", mv.Rights)
	}
}

func TestAssignQuestionsRequiresGroupShare(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)
	seedQuestions(t, conn, "t1", "own")
	seedQuestions(t, conn, "t2", "in-my-group", "in-other-group", "flag-only")
	dbtest.SeedGroup(t, conn, "g1", "t2", "t1")
	dbtest.SeedGroup(t, conn, "g2", "t2", "t3")
	dbtest.Share(t, conn, "in-my-group", "g1", "t2")
	dbtest.Share(t, conn, "in-other-group", "g2", "t2")
	if _, err := conn.Exec(`UPDATE questions SET is_shared = TRUE WHERE id = 'flag-only'`); err != nil {
		t.Fatalf("flag question: %v", err)
	}

	tests := []struct {
		name string
		ids  []string
		kind error
	}{
		{name: "own and group shared", ids: []string{"own", "in-my-group"}},
		{name: "shared with a group I am not in", ids: []string{"own", "in-other-group"}, kind: apperr.ErrValidation},
		{name: "flag without a group share", ids: []string{"flag-only"}, kind: apperr.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AssignQuestions(ctx, "t1", "e1", tc.ids)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}
