package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc reportService
}

type reportService interface {
	SessionReport(ctx context.Context, ownerID, sessionID string) (*SessionReport, error)
	ExamSummary(ctx context.Context, ownerID, examID string) (*ExamSummary, error)
	ExportWorkbook(ctx context.Context, ownerID, examID string, w io.Writer) error
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	out, err := h.svc.ExamSummary(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	out, err := h.svc.SessionReport(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

// Workbook streams the grade sheet. It is buffered so that a failure can
// still be reported as a JSON error.
func (h *Handler) Workbook(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID := chi.URLParam(r, "id")
	var buf bytes.Buffer
	if err := h.svc.ExportWorkbook(r.Context(), owner.ID, examID, &buf); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%s.xlsx"`, examID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
