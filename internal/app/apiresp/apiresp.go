package apiresp

import (
	"encoding/json"
	"errors"
	"net/http"

	"examhub/internal/apperr"

	"github.com/go-chi/chi/v5/middleware"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, Envelope{OK: true, Data: data})
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	write(w, r, status, Envelope{Error: &ErrorPayload{Code: codeFromStatus(status), Message: msg}})
}

// WriteErr renders a domain error with the status of its kind. Errors
// without a kind are reported as internal without leaking their text.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusOf(err)
	payload := &ErrorPayload{Code: code, Message: err.Error()}
	if status == http.StatusInternalServerError {
		payload.Message = "internal error"
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		payload.Field = ve.Field
	}
	write(w, r, status, Envelope{Error: payload})
}

func StatusOf(err error) (int, string) {
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return http.StatusUnprocessableEntity, "validation_error"
	case apperr.ErrInvalidState:
		return http.StatusConflict, "invalid_state"
	case apperr.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case apperr.ErrConflict:
		return http.StatusConflict, "conflict"
	case apperr.ErrForbidden:
		return http.StatusForbidden, "forbidden"
	case apperr.ErrUnavailable:
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func write(w http.ResponseWriter, r *http.Request, status int, res Envelope) {
	res.Meta = Meta{RequestID: middleware.GetReqID(r.Context())}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
