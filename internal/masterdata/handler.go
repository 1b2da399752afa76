package masterdata

import (
	"context"
	"encoding/json"
	"net/http"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc subjectService
}

type subjectService interface {
	CreateSubject(ctx context.Context, ownerID, name string) (*Subject, error)
	RenameSubject(ctx context.Context, ownerID, id, name string) (*Subject, error)
	DeleteSubject(ctx context.Context, ownerID, id string) error
	GetSubject(ctx context.Context, ownerID, id string) (*Subject, error)
	ListSubjects(ctx context.Context, ownerID string) ([]Subject, error)
}

type subjectRequest struct {
	Name string `json:"name"`
}

func NewHandler(svc subjectService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req subjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := h.svc.CreateSubject(r.Context(), owner.ID, req.Name)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) RenameSubject(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req subjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := h.svc.RenameSubject(r.Context(), owner.ID, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.DeleteSubject(r.Context(), owner.ID, chi.URLParam(r, "id")); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id")})
}

func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	out, err := h.svc.GetSubject(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	out, err := h.svc.ListSubjects(r.Context(), owner.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}
