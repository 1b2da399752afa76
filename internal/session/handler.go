package session

import (
	"context"
	"encoding/json"
	"net/http"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc sessionService
}

type sessionService interface {
	Join(ctx context.Context, examID, name, email string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	RecordTabLeave(ctx context.Context, id string) (*Session, error)
	Unlock(ctx context.Context, ownerID, id string) (*Session, error)
	Submit(ctx context.Context, id string) (*Session, error)
	ListByExam(ctx context.Context, ownerID, examID string) ([]Session, error)
	SaveAnswer(ctx context.Context, sessionID, questionID string, raw json.RawMessage) (*Answer, error)
	ListAnswers(ctx context.Context, sessionID string) ([]Answer, error)
	AwardPoints(ctx context.Context, ownerID, answerID string, points *int) (*Answer, error)
	PresignUpload(ctx context.Context, sessionID, questionID, filename string) (*Upload, error)
}

type joinRequest struct {
	StudentName  string `json:"student_name"`
	StudentEmail string `json:"student_email"`
}

type saveAnswerRequest struct {
	Content json.RawMessage `json:"content"`
}

type awardRequest struct {
	Points *int `json:"points"`
}

type uploadRequest struct {
	QuestionID string `json:"question_id"`
	Filename   string `json:"filename"`
}

func NewHandler(svc sessionService) *Handler {
	return &Handler{svc: svc}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Join(r.Context(), chi.URLParam(r, "examID"), req.StudentName, req.StudentEmail)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) TabLeave(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.RecordTabLeave(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) ListAnswers(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListAnswers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	var req saveAnswerRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.SaveAnswer(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "questionID"), req.Content)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) PresignUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.PresignUpload(r.Context(), chi.URLParam(r, "id"), req.QuestionID, req.Filename)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) ListByExam(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	out, err := h.svc.ListByExam(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	out, err := h.svc.Unlock(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) AwardPoints(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req awardRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.AwardPoints(r.Context(), owner.ID, chi.URLParam(r, "id"), req.Points)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}
