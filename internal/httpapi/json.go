package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tyranno/nanumpay-sub001/internal/calculator"
	"github.com/tyranno/nanumpay-sub001/internal/scheduler"
	"github.com/tyranno/nanumpay-sub001/internal/service"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
	"github.com/tyranno/nanumpay-sub001/internal/tree"
)

const maxBodyBytes = 1_048_576 // 1 MB

// APIResponse wraps every successful response body.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	if err := writeJSON(w, status, &APIResponse{Success: true, Data: data, Message: message}); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	if err := writeJSON(w, status, &ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, data any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(data)
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tree.ErrStructuralIntegrity):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, calculator.ErrInvalidRevenue), errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrIllegalTransition), errors.Is(err, storage.ErrInstallmentFrozen):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSONError(w, status, "internal error")
		return
	}
	writeJSONError(w, status, err.Error())
}
