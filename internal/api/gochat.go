package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"

	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/lifecycle"
	"github.com/npezzotti/go-messenger/internal/server"
)

type GoChatApp struct {
	log            *slog.Logger
	db             database.Repository
	srv            *http.Server
	handler        http.Handler
	cs             *server.ChatServer
	groups         *lifecycle.Manager
	validate       *validator.Validate
	signingKey     []byte
	tokenTTL       time.Duration
	allowedOrigins []string
}

// NewGoChatApp mounts the REST and websocket routes on mux. mux may
// already carry other routes such as the stats handler.
func NewGoChatApp(mux *http.ServeMux, logger *slog.Logger, cs *server.ChatServer, db database.Repository, groups *lifecycle.Manager, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger.With("component", "api"),
		db:             db,
		cs:             cs,
		groups:         groups,
		validate:       validator.New(),
		signingKey:     cfg.Auth.SigningKey,
		tokenTTL:       cfg.Auth.TokenTTL,
		allowedOrigins: cfg.Server.AllowedOrigins,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = config.DefaultTokenTTL
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))

	mux.HandleFunc("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))

	mux.HandleFunc("GET /api/groups", s.authMiddleware(s.listGroups))
	mux.HandleFunc("POST /api/groups", s.authMiddleware(s.createGroup))
	mux.HandleFunc("GET /api/groups/{id}", s.authMiddleware(s.getGroup))
	mux.HandleFunc("POST /api/groups/{id}/extend", s.authMiddleware(s.extendGroup))
	mux.HandleFunc("POST /api/groups/{id}/leave", s.authMiddleware(s.leaveGroup))
	mux.HandleFunc("DELETE /api/groups/{id}/members/{userId}", s.authMiddleware(s.removeMember))
	mux.HandleFunc("POST /api/groups/{id}/invites", s.authMiddleware(s.inviteToGroup))
	mux.HandleFunc("POST /api/invites/{id}/respond", s.authMiddleware(s.respondInvite))

	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.HandleFunc("POST /api/notifications/read", s.authMiddleware(s.markNotificationsRead))

	mux.HandleFunc("POST /api/admin/sweep", s.adminOnly(s.runSweep))

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	s.handler = s.errorHandler(h)
	s.srv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *GoChatApp) Handler() http.Handler {
	return s.handler
}

func (s *GoChatApp) Start() error {
	s.log.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
