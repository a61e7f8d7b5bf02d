package api

import (
	"fmt"
	"net/http"

	"github.com/npezzotti/go-messenger/internal/types"
)

func (s *GoChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error("panic", "error", panicError, "path", r.URL.Path)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *GoChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := tokenFromRequest(r)
		if !ok {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		userId, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.Debug("failed to extract user id from token", "error", err)
			s.writeError(w, NewUnauthorizedError())
			return
		}

		ctx := WithUserId(r.Context(), userId)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// adminOnly checks the stored role rather than the token claim so that a
// demotion takes effect before the token expires.
func (s *GoChatApp) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return s.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userId, _ := UserId(r.Context())
		account, err := s.db.GetAccountById(r.Context(), userId)
		if err != nil {
			if types.IsNotFound(err) {
				s.writeError(w, NewUnauthorizedError())
				return
			}
			s.writeError(w, NewInternalServerError(err))
			return
		}
		if account.Role != types.RoleAdmin || account.Blocked {
			s.writeError(w, NewForbiddenError("admin role required"))
			return
		}

		next(w, r)
	})
}
