package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tubeshelf/accounts/internal/services"
	"github.com/tubeshelf/accounts/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// Response is the success envelope.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// UserFromContext returns the user stored by RequireAuth.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok && user.ID != ""
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, Response{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    true,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Message:    message,
		Success:    false,
		Errors:     []string{},
	})
}

// writeServiceError translates a service failure into the error envelope.
// Causes are logged and never returned to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		logger.ErrorContext(r.Context(), "unhandled error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := svcErr.Status()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), svcErr.Message, slog.String("error", err.Error()))
	} else if svcErr.Err != nil {
		logger.DebugContext(r.Context(), svcErr.Message, slog.String("error", svcErr.Err.Error()))
	}
	writeError(w, status, svcErr.Message)
}

// decodeBody fills the string fields named in dst from a JSON object or
// from form values.
func decodeBody(r *http.Request, dst map[string]*string) error {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 10); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return err
		}
		for key, target := range dst {
			*target = r.FormValue(key)
		}
		return nil
	}

	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	for key, target := range dst {
		if value, ok := payload[key].(string); ok {
			*target = value
		}
	}
	return nil
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
