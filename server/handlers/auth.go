package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/server/middleware"
	"github.com/substratehq/substrate/sessions"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/users"
)

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// V1Login handles POST /v1/auth/login requests. A successful login
// binds the user to the current session.
func V1Login(userSvc *users.Service, manager sessions.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			SendErrorResponse(w, logger, fmt.Errorf("%w: malformed request body", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}

		user, err := userSvc.Authenticate(r.Context(), req.User, req.Password)
		if err != nil {
			SendErrorResponse(w, logger, err, http.StatusUnauthorized)
			return
		}

		session, ok := middleware.GetSession(r.Context())
		if !ok {
			SendErrorResponse(w, logger, &customError{message: "no session"}, http.StatusInternalServerError)
			return
		}
		session.UserID = user.ID
		if err := manager.Save(r.Context(), session); err != nil {
			SendErrorResponse(w, logger, err, http.StatusInternalServerError)
			return
		}

		logger.Info("User signed in",
			zap.String("user", user.ID),
			zap.String("session", session.ID))
		SendJSONResponse(w, user.ToDict(true))
	}
}

// V1Logout handles POST /v1/auth/logout requests, invalidating the
// current session entirely.
func V1Logout(manager sessions.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.GetSession(r.Context())
		if !ok {
			SendErrorResponse(w, logger, &customError{message: "no session"}, http.StatusInternalServerError)
			return
		}
		if err := manager.Invalidate(r.Context(), session.ID); err != nil {
			SendErrorResponse(w, logger, err, http.StatusInternalServerError)
			return
		}
		logger.Info("Session invalidated", zap.String("session", session.ID))
		w.WriteHeader(http.StatusNoContent)
	}
}

// V1WhoAmI handles GET /v1/auth/whoami requests
func V1WhoAmI(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, session := call.IdentityFrom(r.Context())
		resp := map[string]interface{}{"authenticated": user != nil}
		if user != nil {
			resp["user"] = user.ToDict(true)
		}
		if session != nil {
			resp["sessionId"] = session.ID
		}
		SendJSONResponse(w, resp)
	}
}
