package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tabletap/internal/domain"
	"tabletap/internal/logger"
	"tabletap/internal/service"
)

type identityKey struct{}

func withIdentity(ctx context.Context, ident domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// IdentityFrom returns the caller attached by requireAuth.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(domain.Identity)
	return ident, ok
}

// requireAuth resolves the bearer token into an identity or answers 401.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			h.writeError(w, r, fmt.Errorf("missing bearer token: %w", service.ErrUnauthorized))
			return
		}
		ident, err := h.Identity.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
	})
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrStorage):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: http.StatusText(status)}

	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Error = "validation failed"
		resp.Fields = verr.Fields
	case status == http.StatusInternalServerError || status == http.StatusBadGateway:
		logger.FromContext(r.Context(), h.Logger).Error("request failed", zap.Error(err))
	default:
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(field, msg string) error {
	return service.NewValidationError(field, msg)
}
