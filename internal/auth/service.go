package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"taskshare/internal/httpmw"
	"taskshare/internal/logx"
	"taskshare/internal/model"
	"taskshare/internal/store"
)

const DefaultIdentityHeader = "X-Auth-Subject"

// Resolver extracts the verified subject of a request. Verification itself
// happens upstream; a resolver only reads the outcome.
type Resolver interface {
	Subject(r *http.Request) (model.UserID, bool)
}

// HeaderResolver trusts a header set by the fronting identity proxy.
type HeaderResolver struct {
	Header string
}

func (h HeaderResolver) Subject(r *http.Request) (model.UserID, bool) {
	name := h.Header
	if strings.TrimSpace(name) == "" {
		name = DefaultIdentityHeader
	}
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" {
		return "", false
	}
	return model.UserID(v), true
}

type Service struct {
	users    store.UserStore
	resolver Resolver
	logger   *log.Logger
}

func NewService(users store.UserStore, resolver Resolver, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if resolver == nil {
		resolver = HeaderResolver{}
	}
	return &Service{users: users, resolver: resolver, logger: logger}
}

// AuthenticateRequest maps the request subject onto a known user. An
// unknown subject is not an error, just unauthenticated.
func (s *Service) AuthenticateRequest(r *http.Request) (model.User, bool, error) {
	sub, ok := s.resolver.Subject(r)
	if !ok {
		return model.User{}, false, nil
	}
	id, ok := model.ParseUserID(string(sub))
	if !ok {
		return model.User{}, false, nil
	}
	u, found, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		return model.User{}, false, fmt.Errorf("resolve subject: %w", err)
	}
	return u, found, nil
}

// CurrentUser returns the stored profile of requester.
func (s *Service) CurrentUser(ctx context.Context, requester model.UserID) (model.User, bool, error) {
	u, found, err := s.users.GetUser(ctx, requester)
	if err != nil {
		return model.User{}, false, fmt.Errorf("load user %s: %w", requester, err)
	}
	return u, found, nil
}

func (s *Service) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok, err := s.AuthenticateRequest(r)
		if err != nil {
			logx.Error(s.logger, "auth_lookup_failed", logx.Fields{
				"request_id": httpmw.RequestIDFromContext(r.Context()),
				"err":        err,
			})
			writeErr(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !ok {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), u)))
	})
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
