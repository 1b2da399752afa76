package group

import (
	"context"
	"encoding/json"
	"net/http"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"
	"examhub/internal/question"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc groupService
}

type groupService interface {
	CreateGroup(ctx context.Context, ownerID, name, description string) (*Group, error)
	GetGroup(ctx context.Context, teacherID, id string) (*Group, error)
	ListGroups(ctx context.Context, teacherID string) ([]Group, error)
	DeleteGroup(ctx context.Context, teacherID, id string) error
	ListMembers(ctx context.Context, teacherID, groupID string) ([]Member, error)
	AddMember(ctx context.Context, actorID, groupID, teacherID string, role Role) (*Member, error)
	RemoveMember(ctx context.Context, actorID, groupID, teacherID string) error
	Invite(ctx context.Context, actorID, groupID, email string) (*Invitation, error)
	ListInvitations(ctx context.Context, actorID, groupID string) ([]Invitation, error)
	ListMyInvitations(ctx context.Context, email string) ([]Invitation, error)
	AcceptInvitation(ctx context.Context, teacherID, email, id string) (*Member, error)
	DeclineInvitation(ctx context.Context, email, id string) error
	CancelInvitation(ctx context.Context, actorID, id string) error
	ShareQuestion(ctx context.Context, actorID, questionID string, groupIDs []string) ([]Share, error)
	UnshareQuestion(ctx context.Context, actorID, questionID, groupID string) error
	ListShares(ctx context.Context, actorID, questionID string) ([]Share, error)
	ListGroupQuestions(ctx context.Context, teacherID, groupID string) ([]question.Question, error)
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type addMemberRequest struct {
	TeacherID string `json:"teacher_id"`
	Role      Role   `json:"role"`
}

type inviteRequest struct {
	Email string `json:"email"`
}

type shareRequest struct {
	GroupIDs []string `json:"group_ids"`
}

func NewHandler(svc groupService) *Handler {
	return &Handler{svc: svc}
}

func currentOwner(w http.ResponseWriter, r *http.Request) (auth.Owner, bool) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
	}
	return owner, ok
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.CreateGroup(r.Context(), owner.ID, req.Name, req.Description)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	out, err := h.svc.GetGroup(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ListGroups(r.Context(), owner.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteGroup(r.Context(), owner.ID, id); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ListMembers(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.AddMember(r.Context(), owner.ID, chi.URLParam(r, "id"), req.TeacherID, req.Role)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

// RemoveMember also serves as "leave" when the path names the caller.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	teacherID := chi.URLParam(r, "teacherID")
	if err := h.svc.RemoveMember(r.Context(), owner.ID, chi.URLParam(r, "id"), teacherID); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"removed": teacherID})
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Invite(r.Context(), owner.ID, chi.URLParam(r, "id"), req.Email)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ListInvitations(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) ListMyInvitations(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ListMyInvitations(r.Context(), owner.Email)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	out, err := h.svc.AcceptInvitation(r.Context(), owner.ID, owner.Email, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) DeclineInvitation(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.DeclineInvitation(r.Context(), owner.Email, id); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"declined": id})
}

func (h *Handler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.CancelInvitation(r.Context(), owner.ID, id); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) ListGroupQuestions(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ListGroupQuestions(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) ShareQuestion(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.ShareQuestion(r.Context(), owner.ID, chi.URLParam(r, "id"), req.GroupIDs)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) UnshareQuestion(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	groupID := chi.URLParam(r, "groupID")
	if err := h.svc.UnshareQuestion(r.Context(), owner.ID, chi.URLParam(r, "id"), groupID); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"unshared": groupID})
}

func (h *Handler) ListShares(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentOwner(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ListShares(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}
