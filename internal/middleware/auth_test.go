package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tyranno/nanumpay-sub001/internal/auth"
)

func TestRequireAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	admin, _ := jwtManager.Generate("op-admin", auth.RoleAdmin)
	viewer, _ := jwtManager.Generate("op-viewer", auth.RoleViewer)

	var seen string
	handler := RequireAuth(jwtManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetOperatorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		method     string
		header     string
		wantStatus int
		wantID     string
	}{
		{name: "missing header", method: http.MethodGet, wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", method: http.MethodGet, header: "Basic " + admin, wantStatus: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodGet, header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "admin write", method: http.MethodPost, header: "Bearer " + admin, wantStatus: http.StatusNoContent, wantID: "op-admin"},
		{name: "viewer read", method: http.MethodGet, header: "Bearer " + viewer, wantStatus: http.StatusNoContent, wantID: "op-viewer"},
		{name: "viewer write", method: http.MethodPut, header: "Bearer " + viewer, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(tt.method, "/v1/anything", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if seen != tt.wantID {
				t.Errorf("operator in context = %q, want %q", seen, tt.wantID)
			}
		})
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusTeapot || rec.Body.String() != "short and stout" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}
