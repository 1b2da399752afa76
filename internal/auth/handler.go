package auth

import (
	"context"
	"net/http"
	"strings"

	"examhub/internal/app/apiresp"
)

type contextKey string

const ownerContextKey contextKey = "auth_owner"

// OwnerHeader carries the teacher id asserted by the upstream identity provider.
const OwnerHeader = "X-Owner-ID"

// EmailHeader optionally carries the teacher's verified email. Group
// invitations are matched against it.
const EmailHeader = "X-Owner-Email"

type Owner struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// RequireOwner trusts the identity provider's header and rejects requests without one.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if id == "" || len(id) > 128 {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		email := strings.ToLower(strings.TrimSpace(r.Header.Get(EmailHeader)))
		next.ServeHTTP(w, r.WithContext(ContextWithOwner(r.Context(), Owner{ID: id, Email: email})))
	})
}

func CurrentOwner(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ownerContextKey).(Owner)
	return o, ok && o.ID != ""
}

// ContextWithOwner injects an owner into context.
// Useful for tests and internal callers such as the CLI.
func ContextWithOwner(ctx context.Context, o Owner) context.Context {
	return context.WithValue(ctx, ownerContextKey, o)
}
