package httpapi

import (
	"context"
	"net/http"
	"strings"

	"edgerelay/internal/common"
	"edgerelay/internal/server/auth"
	"edgerelay/internal/server/models"
)

type contextKey string

const clientContextKey contextKey = "client"

// bearerToken extracts the credential from an "Authorization: Bearer ..."
// header, or "" if absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// clientAuth authenticates the per-client token plus X-Client-Id pair and
// stores the resolved client on the request context.
func (s *Server) clientAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := r.Header.Get("X-Client-Id")
		token := bearerToken(r)

		client, err := s.registry.Authenticate(r.Context(), clientID, token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), clientContextKey, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientFromContext(ctx context.Context) *models.Client {
	client, _ := ctx.Value(clientContextKey).(*models.Client)
	return client
}

// privilegedAuth admits any valid privileged token, operator or publisher.
func (s *Server) privilegedAuth(next http.Handler) http.Handler {
	return s.requireRole(next, auth.RolePublisher, auth.RoleOperator)
}

// operatorAuth admits operator tokens only.
func (s *Server) operatorAuth(next http.Handler) http.Handler {
	return s.requireRole(next, auth.RoleOperator)
}

func (s *Server) requireRole(next http.Handler, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, err := auth.RoleFromToken(bearerToken(r), s.signingKey)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		for _, allowed := range roles {
			if role == allowed {
				next.ServeHTTP(w, r)
				return
			}
		}

		s.writeError(w, r, common.ErrorAccessDenied)
	})
}
