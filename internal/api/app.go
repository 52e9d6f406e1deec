package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/chatterbox-im/server/internal/config"
	"github.com/chatterbox-im/server/internal/database"
	"github.com/chatterbox-im/server/internal/gateway"
)

type ChatterboxApp struct {
	log            *log.Logger
	db             database.ChatRepository
	gw             *gateway.Gateway
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

func NewChatterboxApp(mux *http.ServeMux, logger *log.Logger, gw *gateway.Gateway, db database.ChatRepository, cfg *config.Config) *ChatterboxApp {
	s := &ChatterboxApp{
		log:            logger,
		db:             db,
		gw:             gw,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/chats", s.authMiddleware(s.createChat))
	mux.Handle("GET /api/chats", s.authMiddleware(s.listChats))
	mux.Handle("POST /api/chats/members", s.authMiddleware(s.addMember))
	mux.Handle("DELETE /api/chats/members", s.authMiddleware(s.removeMember))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/blocks", s.authMiddleware(s.createBlock))
	mux.Handle("DELETE /api/blocks", s.authMiddleware(s.deleteBlock))
	mux.Handle("POST /api/pending/cancel", s.authMiddleware(s.cancelPending))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /ws/pending", s.serveWsPending)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ChatterboxApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatterboxApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatterboxApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
