package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"taskshare/internal/auth"
	"taskshare/internal/config"
	"taskshare/internal/httpmw"
	"taskshare/internal/logx"
	"taskshare/internal/store"
	"taskshare/internal/task"
	"taskshare/internal/user"
)

type Options struct {
	Config *config.Config
	Store  store.Store
	Logger *log.Logger
}

func NewHandler(opts Options) (http.Handler, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "taskshare",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := opts.Store.Ping(ctx); err != nil {
			logx.Warn(opts.Logger, "readiness_failed", logx.Fields{"err": err})
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "store unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "taskshare",
			"store":   opts.Config.Store.Driver,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	authService := auth.NewService(opts.Store, auth.HeaderResolver{Header: opts.Config.Server.IdentityHeader}, opts.Logger)
	taskHandler := task.NewHandler(task.NewService(opts.Store, opts.Logger), opts.Logger)
	userHandler := user.NewHandler(authService, opts.Logger)

	mux.Handle("/api/me", authService.RequireAPI(http.HandlerFunc(userHandler.Me)))
	mux.Handle("/api/tasks", authService.RequireAPI(http.HandlerFunc(taskHandler.TasksRoot)))
	mux.Handle("/api/tasks/", authService.RequireAPI(http.HandlerFunc(taskHandler.TasksSub)))

	return httpmw.Chain(
		mux,
		httpmw.WithRequestID,
		httpmw.WithAccessLog(opts.Logger),
		httpmw.WithRecover(opts.Logger),
	), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
