package exam

import (
	"context"
	"encoding/json"
	"net/http"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	Create(ctx context.Context, in CreateInput) (*Exam, error)
	Update(ctx context.Context, in UpdateInput) (*Exam, error)
	Delete(ctx context.Context, ownerID, id string) error
	GetOwned(ctx context.Context, ownerID, id string) (*Exam, error)
	List(ctx context.Context, ownerID string) ([]Exam, error)
	GetComposition(ctx context.Context, ownerID, examID string) (*Composition, error)
	SaveComposition(ctx context.Context, ownerID, examID string, sections []SectionInput) (*Composition, error)
	AssignQuestions(ctx context.Context, ownerID, examID string, questionIDs []string) (*Composition, error)
	Activate(ctx context.Context, ownerID, id string) (*Exam, error)
	Close(ctx context.Context, ownerID, id string) (*Exam, error)
	Duplicate(ctx context.Context, ownerID, id string) (*Exam, error)
	ActivateAndInvite(ctx context.Context, ownerID, id string, emails []string) (*InviteResult, error)
	StudentView(ctx context.Context, examID string) (*StudentExam, error)
}

type upsertExamRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	TimeLimitMinutes *int   `json:"time_limit_minutes"`
	LockOnTabLeave   bool   `json:"lock_on_tab_leave"`
}

type compositionRequest struct {
	Sections []SectionInput `json:"sections"`
}

type assignQuestionsRequest struct {
	QuestionIDs []string `json:"question_ids"`
}

type inviteRequest struct {
	Emails []string `json:"emails"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func currentOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return owner.ID, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req upsertExamRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.svc.Create(r.Context(), req.toInput(ownerID))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, e)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req upsertExamRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.svc.Update(r.Context(), UpdateInput{ID: chi.URLParam(r, "id"), CreateInput: req.toInput(ownerID)})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), ownerID, id); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	e, err := h.svc.GetOwned(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	items, err := h.svc.List(r.Context(), ownerID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) GetComposition(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	comp, err := h.svc.GetComposition(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, comp)
}

func (h *Handler) SaveComposition(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req compositionRequest
	if !decode(w, r, &req) {
		return
	}
	comp, err := h.svc.SaveComposition(r.Context(), ownerID, chi.URLParam(r, "id"), req.Sections)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, comp)
}

func (h *Handler) AssignQuestions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req assignQuestionsRequest
	if !decode(w, r, &req) {
		return
	}
	comp, err := h.svc.AssignQuestions(r.Context(), ownerID, chi.URLParam(r, "id"), req.QuestionIDs)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, comp)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Activate)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Close)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, ownerID, id string) (*Exam, error)) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	e, err := op(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) Duplicate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	e, err := h.svc.Duplicate(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, e)
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.ActivateAndInvite(r.Context(), ownerID, chi.URLParam(r, "id"), req.Emails)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

// StudentView is public: anyone holding the join link may read an active exam.
func (h *Handler) StudentView(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.StudentView(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, view)
}

func (req upsertExamRequest) toInput(ownerID string) CreateInput {
	return CreateInput{
		OwnerID:          ownerID,
		Title:            req.Title,
		Description:      req.Description,
		TimeLimitMinutes: req.TimeLimitMinutes,
		LockOnTabLeave:   req.LockOnTabLeave,
	}
}
