package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/develoFavour/MediCare-sub000/internal/config"
	"github.com/develoFavour/MediCare-sub000/internal/database"
	"github.com/develoFavour/MediCare-sub000/internal/server"
	"github.com/develoFavour/MediCare-sub000/internal/stats"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
)

const metricNumMessagesSent = "NumMessagesSent"

type MessengerApp struct {
	log            *log.Logger
	db             database.MessengerRepository
	mux            *http.Server
	hub            *server.Hub
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string

	// id generators, overridable in tests
	generateConversationId func() (string, error)
	generateMessageId      func() string
}

func NewMessengerApp(mux *http.ServeMux, logger *log.Logger, hub *server.Hub, db database.MessengerRepository,
	su stats.StatsProvider, cfg *config.Config) *MessengerApp {
	s := &MessengerApp{
		log:                    logger,
		db:                     db,
		hub:                    hub,
		stats:                  su,
		signingKey:             cfg.SigningKey,
		allowedOrigins:         cfg.AllowedOrigins,
		generateConversationId: shortid.Generate,
		generateMessageId:      uuid.NewString,
	}

	su.RegisterMetric(metricNumMessagesSent)

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("GET /api/conversations/unread", s.authMiddleware(s.unreadCounts))
	mux.Handle("GET /api/conversations/{id}/messages", s.authMiddleware(s.listMessages))
	mux.Handle("POST /api/conversations/{id}/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("POST /api/conversations/{id}/read", s.authMiddleware(s.markConversationRead))
	mux.Handle("POST /api/messages/{id}/read", s.authMiddleware(s.markMessageRead))
	mux.Handle("POST /api/messages/{id}/delivered", s.authMiddleware(s.markMessageDelivered))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
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

func (s *MessengerApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *MessengerApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *MessengerApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check failed:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
