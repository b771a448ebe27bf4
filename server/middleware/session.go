package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/metrics"
	"github.com/substratehq/substrate/sessions"
	"github.com/substratehq/substrate/users"
)

type contextKey string

const (
	sessionKey   contextKey = "session"
	RequestIDKey contextKey = "request_id"

	// SessionHeader carries the client's session id. The server mints
	// one when the header is absent and echoes it back.
	SessionHeader = "X-Session-Id"
)

// V1SessionMiddleware establishes a session for every request and
// resolves the effective principal: a bearer token if presented, else
// the user bound to the session. Both land on the request context.
func V1SessionMiddleware(manager sessions.Manager, userSvc *users.Service, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(SessionHeader)
			fresh := id == ""
			if fresh {
				id = newSessionID()
			}

			session, err := manager.Establish(r.Context(), id, r.RemoteAddr, r.UserAgent())
			if err != nil {
				logger.Error("Failed to establish session", zap.Error(err))
				http.Error(w, `{"code":"INTERNAL_ERROR","message":"session unavailable"}`, http.StatusInternalServerError)
				return
			}
			if fresh {
				metrics.SessionsEstablishedTotal.Inc()
			}
			w.Header().Set(SessionHeader, session.ID)

			user := resolveUser(r, session, userSvc, logger)

			ctx := context.WithValue(r.Context(), sessionKey, session)
			ctx = call.WithIdentity(ctx, user, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveUser prefers an explicit bearer token over the session's
// bound user. An invalid token degrades to anonymous rather than
// failing the request; individual operations still deny.
func resolveUser(r *http.Request, session *sessions.Session, userSvc *users.Service, logger *zap.Logger) *users.User {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		user, err := userSvc.ByToken(r.Context(), token)
		if err == nil {
			return user
		}
		logger.Debug("Bearer token rejected", zap.Error(err))
		return nil
	}
	if session.UserID != "" {
		user, err := userSvc.Get(r.Context(), session.UserID)
		if err == nil && user.Enabled {
			return user
		}
	}
	return nil
}

// GetSession extracts the session from request context.
func GetSession(ctx context.Context) (*sessions.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*sessions.Session)
	return s, ok
}

// V1RequestIDMiddleware adds a unique request ID to each request context
func V1RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := newSessionID()

			w.Header().Set("X-Request-ID", requestID)
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newSessionID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return hex.EncodeToString(bytes)
}
