package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=8"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "error", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", errResp.StatusCode, "error", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decode reads a JSON body into v and checks its validate tags.
func (s *GoChatApp) decode(r *http.Request, v any) *ApiError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError("malformed request body")
	}

	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewBadRequestError(strings.ToLower(fe.Field()) + " is invalid (" + fe.Tag() + ")")
		}
		return NewBadRequestError("")
	}
	return nil
}

func pathInt(r *http.Request, name string) (int, *ApiError) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil || v <= 0 {
		return 0, NewBadRequestError("invalid " + name)
	}
	return v, nil
}

func queryInt(r *http.Request, name string) (int, *ApiError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, NewBadRequestError("invalid " + name)
	}
	return v, nil
}

func (s *GoChatApp) currentUser(r *http.Request) (int, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return 0, NewUnauthorizedError()
	}
	return userId, nil
}

func (s *GoChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: strings.ToLower(req.Email),
		PasswordHash: pwdHash,
		Role:         types.RoleUser,
	})
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	s.writeJson(w, http.StatusCreated, newUser.ToUser())
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if errResp := s.decode(r, &lr); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(r.Context(), strings.ToLower(lr.Email))
	if err != nil {
		if types.IsNotFound(err) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}
	if dbUser.Blocked {
		s.writeError(w, NewForbiddenError("account is blocked"))
		return
	}

	u := dbUser.ToUser()
	token, err := s.createJwtForSession(u, s.tokenTTL)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, s.tokenTTL))

	s.writeJson(w, http.StatusOK, LoginResponse{User: u, Token: token})
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	user, err := s.db.GetAccountById(r.Context(), userId)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	s.writeJson(w, http.StatusOK, user.ToUser())
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	convs, err := s.db.ListConversations(r.Context(), userId)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}
	if convs == nil {
		convs = []types.Conversation{}
	}

	s.writeJson(w, http.StatusOK, convs)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	convId, errResp := pathInt(r, "id")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	before, errResp := queryInt(r, "before")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	limit, errResp := queryInt(r, "limit")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	conv, err := s.db.GetConversation(r.Context(), convId)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}
	if !conv.HasParticipant(userId) {
		s.writeError(w, NewForbiddenError("not a participant of this conversation"))
		return
	}

	msgs, err := s.db.ListMessages(r.Context(), database.ListMessagesParams{
		ConversationId: convId,
		ViewerId:       userId,
		Before:         before,
		Limit:          limit,
	})
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *GoChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msgId, errResp := pathInt(r, "id")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	var everyone bool
	switch r.URL.Query().Get("scope") {
	case "", "me":
	case "everyone":
		everyone = true
	default:
		s.writeError(w, NewBadRequestError("scope must be me or everyone"))
		return
	}

	if err := s.cs.DeleteMessage(r.Context(), userId, msgId, everyone); err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveWs upgrades an authenticated request. The role and blocked flag are
// read from storage, never from the token.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	user, err := s.db.GetAccountById(r.Context(), id)
	if err != nil {
		if types.IsNotFound(err) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if user.Blocked {
		s.writeError(w, NewForbiddenError("account is blocked"))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("error upgrading connection", "error", err)
		return
	}

	client := server.NewClient(user.ToUser(), conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
