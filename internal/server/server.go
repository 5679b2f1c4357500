package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/taskie/internal/database"
	"github.com/dukerupert/taskie/internal/feed"
	"github.com/dukerupert/taskie/internal/handler"
	"github.com/dukerupert/taskie/internal/media"
	"github.com/dukerupert/taskie/internal/middleware"
	"github.com/dukerupert/taskie/internal/push"
	"github.com/dukerupert/taskie/internal/store"
	ws "github.com/dukerupert/taskie/internal/websocket"
)

// Options carries the optional collaborators of a Server. A nil Media or a
// Push service without keys disables the matching feature.
type Options struct {
	SecureCookies bool
	Media         *media.Store
	Push          *push.Service
}

type Server struct {
	db             *sql.DB
	broker         *feed.Broker
	userH          *handler.UserHandler
	householdH     *handler.HouseholdHandler
	choreH         *handler.ChoreHandler
	chatH          *handler.ChatHandler
	pushH          *handler.PushHandler
	sessionStore   *store.SessionStore
	householdStore *store.HouseholdStore
	rateLimiter    *middleware.RateLimiter
	notifier       *push.Notifier
	logger         *slog.Logger
}

func New(db *sql.DB, opts Options, logger *slog.Logger) *Server {
	broker := feed.NewBroker(logger.With("component", "feed"))

	userStore := store.NewUserStore(db)
	householdStore := store.NewHouseholdStore(db)
	sessionStore := store.NewSessionStore(db)
	choreStore := store.NewChoreStore(db)
	chatStore := store.NewChatStore(db)
	pushStore := store.NewPushStore(db)

	var notifier *push.Notifier
	if opts.Push.Enabled() {
		notifier = push.NewNotifier(opts.Push, broker, choreStore, householdStore, pushStore, logger.With("component", "push"))
	}

	return &Server{
		db:             db,
		broker:         broker,
		userH:          handler.NewUserHandler(userStore, householdStore, sessionStore, opts.SecureCookies, logger.With("component", "user")),
		householdH:     handler.NewHouseholdHandler(householdStore, sessionStore, logger.With("component", "household")),
		choreH:         handler.NewChoreHandler(choreStore, householdStore, opts.Media, broker, logger.With("component", "chore")),
		chatH:          handler.NewChatHandler(chatStore, choreStore, householdStore, opts.Media, broker, logger.With("component", "chat")),
		pushH:          handler.NewPushHandler(pushStore, opts.Push, logger.With("component", "push_handler")),
		sessionStore:   sessionStore,
		householdStore: householdStore,
		rateLimiter:    middleware.NewRateLimiter(),
		notifier:       notifier,
		logger:         logger,
	}
}

func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Broker() *feed.Broker {
	return s.broker
}

// Notifier returns the push notifier, or nil when push is disabled.
func (s *Server) Notifier() *push.Notifier {
	return s.notifier
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("POST /api/users", s.limited(middleware.RegisterLimit, middleware.ByIP, s.userH.Register))
	outerMux.Handle("POST /api/sessions", s.limited(middleware.LoginLimit, middleware.ByIP, s.userH.Login))

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.householdStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check ping", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	version, err := database.Version(s.db)
	if err != nil {
		s.logger.Error("health check version", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "schema_version": version})
}

func (s *Server) limited(limit middleware.Limit, keyFunc func(*http.Request) string, h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, limit, keyFunc)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	scoped := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireHousehold(h)
	}

	mux.HandleFunc("DELETE /api/sessions", s.userH.Logout)
	mux.HandleFunc("GET /api/me", s.userH.Me)
	mux.HandleFunc("PATCH /api/me", s.userH.UpdateProfile)

	mux.HandleFunc("POST /api/households", s.householdH.Create)
	mux.Handle("POST /api/households/join", s.limited(middleware.JoinLimit, middleware.ByUser, s.householdH.Join))
	mux.HandleFunc("GET /api/households", s.householdH.List)
	mux.HandleFunc("POST /api/households/{id}/switch", s.householdH.Switch)
	mux.Handle("GET /api/household/members", scoped(s.householdH.Members))

	mux.Handle("POST /api/chores", scoped(s.choreH.Create))
	mux.Handle("GET /api/chores", scoped(s.choreH.List))
	mux.Handle("GET /api/chores/{id}", scoped(s.choreH.Get))
	mux.Handle("POST /api/chores/{id}/accept", scoped(s.choreH.Accept))
	mux.Handle("POST /api/chores/{id}/finish", scoped(s.choreH.Finish))
	mux.Handle("POST /api/chores/{id}/withdraw", scoped(s.choreH.Withdraw))
	mux.Handle("POST /api/chores/{id}/release", scoped(s.choreH.Release))
	mux.Handle("POST /api/chores/{id}/images", scoped(s.choreH.UploadImage))

	mux.Handle("GET /api/chores/{id}/messages", scoped(s.chatH.List))
	mux.Handle("POST /api/chores/{id}/messages", scoped(s.chatH.Create))

	mux.Handle("POST /api/push/subscribe", scoped(s.pushH.Subscribe))
	mux.Handle("GET /api/push/subscriptions", scoped(s.pushH.ListSubscriptions))
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	mux.Handle("GET /ws", scoped(ws.Handle(s.broker, s.logger.With("component", "websocket"))))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
