package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"examhub/internal/app/apiresp"
	"examhub/internal/app/observability"
	"examhub/internal/auth"
	"examhub/internal/exam"
	"examhub/internal/group"
	"examhub/internal/masterdata"
	"examhub/internal/question"
	"examhub/internal/report"
	"examhub/internal/session"
	"examhub/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// eventRecorder forwards session events to the metrics collector.
type eventRecorder struct {
	collector *observability.Collector
}

func (e eventRecorder) Record(event session.Event) {
	e.collector.CountEvent(string(event))
}

// NewRouter wires every service onto one chi mux. Background work started
// here (rate limiter cleanup) stops when ctx is done.
func NewRouter(ctx context.Context, cfg Config, conn *sql.DB, logger *zap.Logger, store storage.ObjectStore) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := observability.NewCollector(conn, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)
	r.Use(collector.Middleware)
	r.Use(CSRFMiddleware(cfg.CSRFEnforced))

	joinLimiter := NewIPRateLimiter(cfg.JoinRateLimitPerMin, time.Minute)
	go joinLimiter.RunCleanup(time.Minute, ctx.Done())

	if cfg.AnswerTokenSecret == "" {
		logger.Warn("answer-token-secret not set, matching tokens change on restart")
	}
	tokens := question.NewMatchTokens(cfg.AnswerTokenSecret)

	questionHandler := question.NewHandler(question.NewService(conn))
	subjectHandler := masterdata.NewHandler(masterdata.NewService(conn))
	groupHandler := group.NewHandler(group.NewService(conn))
	examHandler := exam.NewHandler(exam.NewService(conn, exam.NewSMTPMailer(cfg.SMTP), cfg.PublicBaseURL).
		WithMatchTokens(tokens))
	reportHandler := report.NewHandler(report.NewService(conn))

	sessionSvc := session.NewService(conn, store, logger.Named("session")).
		WithRecorder(eventRecorder{collector: collector}).
		WithMatchTokens(tokens)
	if cfg.UploadURLTTLInMinutes > 0 {
		sessionSvc = sessionSvc.WithUploadTTL(time.Duration(cfg.UploadURLTTLInMinutes) * time.Minute)
	}
	sessionHandler := session.NewHandler(sessionSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", collector.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/take/{examID}", examHandler.StudentView)
		api.With(RateLimitMiddleware(joinLimiter)).Post("/take/{examID}/join", sessionHandler.Join)

		api.Get("/sessions/{id}", sessionHandler.Get)
		api.Get("/sessions/{id}/answers", sessionHandler.ListAnswers)
		api.Put("/sessions/{id}/answers/{questionID}", sessionHandler.SaveAnswer)
		api.Post("/sessions/{id}/tab-leave", sessionHandler.TabLeave)
		api.Post("/sessions/{id}/submit", sessionHandler.Submit)
		api.Post("/sessions/{id}/uploads", sessionHandler.PresignUpload)

		api.Group(func(teacher chi.Router) {
			teacher.Use(auth.RequireOwner)

			teacher.Post("/questions", questionHandler.Create)
			teacher.Get("/questions", questionHandler.List)
			teacher.Get("/questions/shared", questionHandler.ListShared)
			teacher.Get("/questions/{id}", questionHandler.Get)
			teacher.Put("/questions/{id}", questionHandler.Update)
			teacher.Delete("/questions/{id}", questionHandler.Delete)
			teacher.Post("/questions/{id}/copy", questionHandler.Copy)
			teacher.Get("/questions/{id}/shares", groupHandler.ListShares)
			teacher.Put("/questions/{id}/shares", groupHandler.ShareQuestion)
			teacher.Delete("/questions/{id}/shares/{groupID}", groupHandler.UnshareQuestion)

			teacher.Post("/groups", groupHandler.Create)
			teacher.Get("/groups", groupHandler.List)
			teacher.Get("/groups/{id}", groupHandler.Get)
			teacher.Delete("/groups/{id}", groupHandler.Delete)
			teacher.Get("/groups/{id}/members", groupHandler.ListMembers)
			teacher.Post("/groups/{id}/members", groupHandler.AddMember)
			teacher.Delete("/groups/{id}/members/{teacherID}", groupHandler.RemoveMember)
			teacher.Get("/groups/{id}/invitations", groupHandler.ListInvitations)
			teacher.Post("/groups/{id}/invitations", groupHandler.Invite)
			teacher.Get("/groups/{id}/questions", groupHandler.ListGroupQuestions)
			teacher.Get("/invitations", groupHandler.ListMyInvitations)
			teacher.Post("/invitations/{id}/accept", groupHandler.AcceptInvitation)
			teacher.Post("/invitations/{id}/decline", groupHandler.DeclineInvitation)
			teacher.Delete("/invitations/{id}", groupHandler.CancelInvitation)

			teacher.Post("/subjects", subjectHandler.CreateSubject)
			teacher.Get("/subjects", subjectHandler.ListSubjects)
			teacher.Get("/subjects/{id}", subjectHandler.GetSubject)
			teacher.Put("/subjects/{id}", subjectHandler.RenameSubject)
			teacher.Delete("/subjects/{id}", subjectHandler.DeleteSubject)

			teacher.Post("/exams", examHandler.Create)
			teacher.Get("/exams", examHandler.List)
			teacher.Get("/exams/{id}", examHandler.Get)
			teacher.Put("/exams/{id}", examHandler.Update)
			teacher.Delete("/exams/{id}", examHandler.Delete)
			teacher.Post("/exams/{id}/activate", examHandler.Activate)
			teacher.Post("/exams/{id}/close", examHandler.Close)
			teacher.Post("/exams/{id}/duplicate", examHandler.Duplicate)
			teacher.Post("/exams/{id}/invitations", examHandler.Invite)
			teacher.Get("/exams/{id}/composition", examHandler.GetComposition)
			teacher.Put("/exams/{id}/composition", examHandler.SaveComposition)
			teacher.Put("/exams/{id}/questions", examHandler.AssignQuestions)
			teacher.Get("/exams/{id}/sessions", sessionHandler.ListByExam)
			teacher.Get("/exams/{id}/report", reportHandler.Summary)
			teacher.Get("/exams/{id}/report.xlsx", reportHandler.Workbook)

			teacher.Get("/sessions/{id}/report", reportHandler.Session)
			teacher.Post("/sessions/{id}/unlock", sessionHandler.Unlock)
			teacher.Put("/answers/{id}/points", sessionHandler.AwardPoints)
		})
	})

	return r
}
