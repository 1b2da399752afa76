package report

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"examhub/internal/apperr"
	"examhub/internal/db/dbtest"
	"examhub/internal/scoring"
	"examhub/internal/session"

	"github.com/xuri/excelize/v2"
)

const (
	mcContent    = `{"question":"2+2?","options":[{"id":"a","text":"4","is_correct":true},{"id":"b","text":"5","is_correct":false}]}`
	essayContent = `{"question":"Explain photosynthesis."}`
)

type seeded struct {
	svc      *Service
	conn     *sql.DB
	sessions map[string]string
}

// seedExam builds exam "e1" of teacher "t1": section "sec1" holds q1 (MC, 2)
// and q2 (essay, 4); q3 (MC, 3) is unsectioned. Ana and Ben submit, Cara is
// still writing.
func seedExam(t *testing.T) seeded {
	t.Helper()
	conn := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedExam(t, conn, "e1", "t1", "active", false)
	dbtest.SeedQuestion(t, conn, "q1", "t1", "multiple_choice", mcContent, 2)
	dbtest.SeedQuestion(t, conn, "q2", "t1", "essay", essayContent, 4)
	dbtest.SeedQuestion(t, conn, "q3", "t1", "multiple_choice", mcContent, 3)
	if _, err := conn.Exec(`INSERT INTO exam_sections (id, exam_id, title, order_index) VALUES ('sec1', 'e1', 'Teil A', 0)`); err != nil {
		t.Fatalf("seed section: %v", err)
	}
	dbtest.Assign(t, conn, "e1", "q1", "sec1", 0)
	dbtest.Assign(t, conn, "e1", "q2", "sec1", 1)
	dbtest.Assign(t, conn, "e1", "q3", "", 0)

	sessions := session.NewService(conn, nil, nil)
	ids := map[string]string{}
	join := func(name, email string) string {
		s, err := sessions.Join(ctx, "e1", name, email)
		if err != nil {
			t.Fatalf("join %s: %v", email, err)
		}
		ids[email] = s.ID
		return s.ID
	}
	save := func(sid, qid, raw string) *session.Answer {
		a, err := sessions.SaveAnswer(ctx, sid, qid, json.RawMessage(raw))
		if err != nil {
			t.Fatalf("save %s: %v", qid, err)
		}
		return a
	}

	ana := join("Ana", "ana@example.test")
	save(ana, "q1", `{"selected_option_id":"a"}`)
	essay := save(ana, "q2", `{"text":"Light becomes sugar."}`)
	save(ana, "q3", `{"selected_option_id":"b"}`)
	three := 3
	if _, err := sessions.AwardPoints(ctx, "t1", essay.ID, &three); err != nil {
		t.Fatalf("award: %v", err)
	}

	ben := join("Ben", "ben@example.test")
	save(ben, "q1", `{"selected_option_id":"b"}`)
	save(ben, "q3", `{"selected_option_id":"a"}`)

	cara := join("Cara", "cara@example.test")
	save(cara, "q1", `{"selected_option_id":"a"}`)

	for _, sid := range []string{ana, ben} {
		if _, err := sessions.Submit(ctx, sid); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	return seeded{svc: NewService(conn), conn: conn, sessions: ids}
}

func TestSessionReportAggregatesSections(t *testing.T) {
	s := seedExam(t)
	rep, err := s.svc.SessionReport(context.Background(), "t1", s.sessions["ana@example.test"])
	if err != nil {
		t.Fatalf("session report: %v", err)
	}
	if rep.ExamID != "e1" || rep.Participant.StudentName != "Ana" || rep.Participant.SubmittedAt == nil {
		t.Fatalf("unexpected header %+v", rep)
	}
	if len(rep.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(rep.Questions))
	}

	byID := map[string]QuestionResult{}
	for _, q := range rep.Questions {
		byID[q.QuestionID] = q
	}
	if q := byID["q1"]; q.Effective != 2 || q.Reason != scoring.ReasonCorrect || q.SectionID != "sec1" {
		t.Fatalf("unexpected q1 %+v", q)
	}
	if q := byID["q2"]; q.Auto != nil || q.Awarded == nil || *q.Awarded != 3 || q.Effective != 3 || q.Reason != scoring.ReasonManual {
		t.Fatalf("unexpected q2 %+v", q)
	}
	if q := byID["q3"]; q.Effective != 0 || q.Reason != scoring.ReasonWrong || q.SectionID != "" {
		t.Fatalf("unexpected q3 %+v", q)
	}

	if len(rep.Totals.Sections) != 1 || rep.Totals.Sections[0].SectionID != "sec1" {
		t.Fatalf("unexpected sections %+v", rep.Totals.Sections)
	}
	if got := rep.Totals.Sections[0].Totals; got.Max != 6 || got.Awarded != 5 {
		t.Fatalf("unexpected section totals %+v", got)
	}
	if rep.Totals.Unsectioned.Max != 3 || rep.Totals.Unsectioned.Awarded != 0 {
		t.Fatalf("unexpected unsectioned totals %+v", rep.Totals.Unsectioned)
	}
	if rep.Totals.Exam.Max != 9 || rep.Totals.Exam.Awarded != 5 {
		t.Fatalf("unexpected exam totals %+v", rep.Totals.Exam)
	}
}

func TestSessionReportUnansweredQuestions(t *testing.T) {
	s := seedExam(t)
	rep, err := s.svc.SessionReport(context.Background(), "t1", s.sessions["cara@example.test"])
	if err != nil {
		t.Fatalf("session report: %v", err)
	}
	for _, q := range rep.Questions {
		switch q.QuestionID {
		case "q1":
			if !q.Answered || q.Effective != 2 {
				t.Fatalf("unexpected q1 %+v", q)
			}
		case "q3":
			if q.Answered || q.Reason != scoring.ReasonUnanswered || q.Effective != 0 {
				t.Fatalf("unexpected q3 %+v", q)
			}
		}
	}
}

func TestReportOwnership(t *testing.T) {
	s := seedExam(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{name: "session of another teacher", want: apperr.ErrForbidden, run: func() error {
			_, err := s.svc.SessionReport(ctx, "t2", s.sessions["ana@example.test"])
			return err
		}},
		{name: "missing session", want: session.ErrSessionNotFound, run: func() error {
			_, err := s.svc.SessionReport(ctx, "t1", "missing")
			return err
		}},
		{name: "summary of another teacher", want: apperr.ErrForbidden, run: func() error {
			_, err := s.svc.ExamSummary(ctx, "t2", "e1")
			return err
		}},
		{name: "summary of missing exam", want: apperr.ErrNotFound, run: func() error {
			_, err := s.svc.ExamSummary(ctx, "t1", "nope")
			return err
		}},
		{name: "export of another teacher", want: apperr.ErrForbidden, run: func() error {
			return s.svc.ExportWorkbook(ctx, "t2", "e1", &bytes.Buffer{})
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestExamSummaryCountsSubmittedSessions(t *testing.T) {
	s := seedExam(t)
	sum, err := s.svc.ExamSummary(context.Background(), "t1", "e1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Participants != 3 || sum.Submitted != 2 {
		t.Fatalf("unexpected participation %+v", sum)
	}
	if sum.MaxPoints != 9 || sum.HighestScore != 5 || sum.LowestScore != 3 || sum.AverageScore != 4 {
		t.Fatalf("unexpected scores %+v", sum)
	}
}

func TestExamSummaryWithoutSubmissions(t *testing.T) {
	conn := dbtest.New(t)
	dbtest.SeedExam(t, conn, "e1", "t1", "draft", false)
	sum, err := NewService(conn).ExamSummary(context.Background(), "t1", "e1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Participants != 0 || sum.Submitted != 0 || sum.AverageScore != 0 || sum.MaxPoints != 0 {
		t.Fatalf("unexpected empty summary %+v", sum)
	}
}

func TestExportWorkbook(t *testing.T) {
	s := seedExam(t)
	var buf bytes.Buffer
	if err := s.svc.ExportWorkbook(context.Background(), "t1", "e1", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Ergebnisse")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header and 3 sessions, got %d rows", len(rows))
	}
	header := rows[0]
	if len(header) != 9 || header[0] != "Name" || header[5] != "Question q1 (2)" || header[8] != "Gesamt" {
		t.Fatalf("unexpected header %v", header)
	}

	totals := map[string]string{}
	for _, row := range rows[1:] {
		totals[row[1]] = row[len(row)-1]
	}
	want := map[string]string{"ana@example.test": "5", "ben@example.test": "3", "cara@example.test": "2"}
	for email, total := range want {
		if totals[email] != total {
			t.Fatalf("expected total %s for %s, got %q", total, email, totals[email])
		}
	}
}
