package question

import (
	"context"
	"encoding/json"
	"net/http"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	Create(ctx context.Context, in CreateInput) (*Question, error)
	Update(ctx context.Context, in UpdateInput) (*Question, error)
	GetFor(ctx context.Context, viewerID, id string) (*Question, error)
	List(ctx context.Context, f ListFilter) ([]Question, error)
	ListShared(ctx context.Context, viewerID string) ([]Question, error)
	Delete(ctx context.Context, ownerID, id string) error
	Copy(ctx context.Context, id, newOwner string) (*Question, error)
}

type upsertQuestionRequest struct {
	Type       string          `json:"type"`
	Title      string          `json:"title"`
	Content    json.RawMessage `json:"content"`
	Points     int             `json:"points"`
	BloomLevel string          `json:"bloom_level"`
	SubjectID  string          `json:"subject_id"`
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req upsertQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	q, err := h.svc.Create(r.Context(), req.toInput(owner.ID))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, q)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req upsertQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	q, err := h.svc.Update(r.Context(), UpdateInput{ID: chi.URLParam(r, "id"), CreateInput: req.toInput(owner.ID)})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	q, err := h.svc.GetFor(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	items, err := h.svc.List(r.Context(), ListFilter{
		OwnerID:   owner.ID,
		Type:      r.URL.Query().Get("type"),
		SubjectID: r.URL.Query().Get("subject_id"),
	})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) ListShared(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	items, err := h.svc.ListShared(r.Context(), owner.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Delete(r.Context(), owner.ID, chi.URLParam(r, "id")); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"deleted": chi.URLParam(r, "id")})
}

func (h *Handler) Copy(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	q, err := h.svc.Copy(r.Context(), chi.URLParam(r, "id"), owner.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, q)
}

func (req upsertQuestionRequest) toInput(ownerID string) CreateInput {
	return CreateInput{
		OwnerID:    ownerID,
		Type:       req.Type,
		Title:      req.Title,
		Content:    req.Content,
		Points:     req.Points,
		BloomLevel: req.BloomLevel,
		SubjectID:  req.SubjectID,
	}
}
