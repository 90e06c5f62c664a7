package user

import (
	"encoding/json"
	"log"
	"net/http"

	"taskshare/internal/auth"
	"taskshare/internal/httpmw"
	"taskshare/internal/logx"
)

// Handler serves the profile of the authenticated requester.
type Handler struct {
	auth   *auth.Service
	logger *log.Logger
}

func NewHandler(svc *auth.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{auth: svc, logger: logger}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	who, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	u, found, err := h.auth.CurrentUser(r.Context(), who.ID)
	if err != nil {
		logx.Error(h.logger, "current_user_failed", logx.Fields{
			"request_id": httpmw.RequestIDFromContext(r.Context()),
			"err":        err,
		})
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
