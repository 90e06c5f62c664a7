package task

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"taskshare/internal/auth"
	"taskshare/internal/etag"
	"taskshare/internal/httpmw"
	"taskshare/internal/logx"
	"taskshare/internal/model"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc    *Service
	logger *log.Logger
}

func NewHandler(svc *Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(out)
}

// writeTask sends t with its version as a weak ETag.
func writeTask(w http.ResponseWriter, code int, t model.Task) {
	w.Header().Set("ETag", etag.Format(t.Version))
	writeJSON(w, code, t)
}

// writeServiceErr maps service errors onto status codes. Anything unknown is
// logged and answered with a generic 500.
func (h *Handler) writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, "task not found")
	case errors.Is(err, ErrUserNotFound):
		writeErr(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrForbidden):
		writeErr(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrPreconditionRequired):
		writeErr(w, http.StatusPreconditionRequired, "If-Match header required")
	case errors.Is(err, ErrPreconditionFailed):
		writeErr(w, http.StatusPreconditionFailed, "task was modified")
	default:
		logx.Error(h.logger, "task_request_failed", logx.Fields{
			"request_id": httpmw.RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"err":        err,
		})
		writeErr(w, http.StatusInternalServerError, "internal server error")
	}
}

func requester(w http.ResponseWriter, r *http.Request) (model.UserID, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return u.ID, true
}

// precondition reads If-Match. A missing header stays unset; a malformed one
// is a validation error.
func precondition(r *http.Request) (model.Optional[int64], error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return model.Optional[int64]{}, nil
	}
	v, err := etag.Parse(raw)
	if err != nil {
		return model.Optional[int64]{}, invalid("If-Match", "must be a weak entity tag such as W/\"3\"")
	}
	return model.Some(v), nil
}

// /api/tasks  (collection)
func (h *Handler) TasksRoot(w http.ResponseWriter, r *http.Request) {
	uid, ok := requester(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		ts, err := h.svc.ListTasks(r.Context(), uid, ListQuery{
			Text:     q.Get("q"),
			Status:   q.Get("status"),
			Priority: q.Get("priority"),
		})
		if err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		if ts == nil {
			ts = []model.Task{}
		}
		writeJSON(w, http.StatusOK, ts)

	case http.MethodPost:
		var in CreateInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		t, err := h.svc.CreateTask(r.Context(), uid, in)
		if err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		w.Header().Set("Location", "/api/tasks/"+string(t.ID))
		writeTask(w, http.StatusCreated, t)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// /api/tasks/{id} and /api/tasks/{id}/share
func (h *Handler) TasksSub(w http.ResponseWriter, r *http.Request) {
	uid, ok := requester(w, r)
	if !ok {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	parts := strings.Split(rest, "/")
	id, ok := model.ParseTaskID(parts[0])
	if !ok {
		writeErr(w, http.StatusNotFound, "task not found")
		return
	}

	switch {
	case len(parts) == 1:
		h.task(w, r, id, uid)
	case len(parts) == 2 && parts[1] == "share":
		h.share(w, r, id, uid)
	default:
		writeErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) task(w http.ResponseWriter, r *http.Request, id model.TaskID, uid model.UserID) {
	switch r.Method {
	case http.MethodGet:
		t, err := h.svc.GetTask(r.Context(), id, uid)
		if err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		writeTask(w, http.StatusOK, t)

	case http.MethodPatch:
		pre, err := precondition(r)
		if err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		var p Patch
		if err := decodeJSON(w, r, &p); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		t, err := h.svc.PatchTask(r.Context(), id, uid, pre, p)
		if err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		writeTask(w, http.StatusOK, t)

	case http.MethodDelete:
		if err := h.svc.DeleteTask(r.Context(), id, uid); err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) share(w http.ResponseWriter, r *http.Request, id model.TaskID, uid model.UserID) {
	switch r.Method {
	case http.MethodGet:
		out, err := h.svc.ListShares(r.Context(), id, uid)
		if err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		if out == nil {
			out = []model.SharedUser{}
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var in struct {
			UserEmail string `json:"userEmail"`
			Role      string `json:"role"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		if err := h.svc.ShareTask(r.Context(), id, uid, in.UserEmail, in.Role); err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := h.svc.RevokeShare(r.Context(), id, uid, r.URL.Query().Get("userEmail")); err != nil {
			h.writeServiceErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
