package masterdata

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"examhub/internal/auth"
)

type mockSubjectService struct {
	createFn func(ctx context.Context, ownerID, name string) (*Subject, error)
	renameFn func(ctx context.Context, ownerID, id, name string) (*Subject, error)
	deleteFn func(ctx context.Context, ownerID, id string) error
	getFn    func(ctx context.Context, ownerID, id string) (*Subject, error)
	listFn   func(ctx context.Context, ownerID string) ([]Subject, error)
}

func (m *mockSubjectService) CreateSubject(ctx context.Context, ownerID, name string) (*Subject, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, ownerID, name)
}

func (m *mockSubjectService) RenameSubject(ctx context.Context, ownerID, id, name string) (*Subject, error) {
	if m.renameFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.renameFn(ctx, ownerID, id, name)
}

func (m *mockSubjectService) DeleteSubject(ctx context.Context, ownerID, id string) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, ownerID, id)
}

func (m *mockSubjectService) GetSubject(ctx context.Context, ownerID, id string) (*Subject, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, ownerID, id)
}

func (m *mockSubjectService) ListSubjects(ctx context.Context, ownerID string) ([]Subject, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, ownerID)
}

func TestCreateSubjectHandler(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "created", body: `{"name":"Biologie"}`, want: http.StatusCreated},
		{name: "duplicate", body: `{"name":"Biologie"}`, err: ErrSubjectExists, want: http.StatusConflict},
		{name: "bad body", body: `{`, want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockSubjectService{
				createFn: func(ctx context.Context, ownerID, name string) (*Subject, error) {
					if tc.err != nil {
						return nil, tc.err
					}
					return &Subject{ID: "s1", OwnerID: ownerID, Name: name}, nil
				},
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/subjects", bytes.NewBufferString(tc.body))
			req = req.WithContext(auth.ContextWithOwner(req.Context(), auth.Owner{ID: "t1"}))
			rr := httptest.NewRecorder()
			h.CreateSubject(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestListSubjectsRequiresOwner(t *testing.T) {
	h := NewHandler(&mockSubjectService{})
	rr := httptest.NewRecorder()
	h.ListSubjects(rr, httptest.NewRequest(http.MethodGet, "/api/v1/subjects", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
