package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/dukerupert/taskie/internal/auth"
	"github.com/dukerupert/taskie/internal/middleware"
	"github.com/dukerupert/taskie/internal/model"
	"github.com/dukerupert/taskie/internal/store"
)

const minPasswordLength = 8

type UserHandler struct {
	userStore      *store.UserStore
	householdStore *store.HouseholdStore
	sessionStore   *store.SessionStore
	secureCookies  bool
	logger         *slog.Logger
}

func NewUserHandler(us *store.UserStore, hs *store.HouseholdStore, ss *store.SessionStore, secureCookies bool, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		userStore:      us,
		householdStore: hs,
		sessionStore:   ss,
		secureCookies:  secureCookies,
		logger:         logger,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /api/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	existing, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("register lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	user, err := h.userStore.Create(req.Email, req.Name, req.Password)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token       string      `json:"token"`
	User        *model.User `json:"user"`
	HouseholdID *int64      `json:"household_id"`
}

// Login handles POST /api/sessions. The session starts in the user's first
// household, if any.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.userStore.Authenticate(strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		h.logger.Error("authenticate", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}

	households, err := h.householdStore.ListHouseholdsForUser(user.ID)
	if err != nil {
		h.logger.Error("login households", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	var householdID *int64
	if len(households) > 0 {
		householdID = &households[0].ID
	}

	sess, err := h.sessionStore.Create(user.ID, householdID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(store.SessionDuration.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secureCookies || r.TLS != nil,
	})

	h.logger.Info("user signed in", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{Token: sess.Token, User: user, HouseholdID: householdID})
}

// Logout handles DELETE /api/sessions
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if ok {
		if err := h.sessionStore.Delete(ac.SessionID); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	User        *model.User `json:"user"`
	HouseholdID int64       `json:"household_id,omitempty"`
	Role        string      `json:"role,omitempty"`
}

// Me handles GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	user, err := h.userStore.GetByID(ac.UserID)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: user, HouseholdID: ac.HouseholdID, Role: ac.Role})
}

type profileRequest struct {
	ProfileColor string `json:"profile_color"`
}

// UpdateProfile handles PATCH /api/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !isHexColor(req.ProfileColor) {
		writeError(w, http.StatusBadRequest, "profile_color must be a #RRGGBB color")
		return
	}

	user, err := h.userStore.UpdateProfileColor(auth.UserID(r.Context()), req.ProfileColor)
	if err != nil {
		h.logger.Error("update profile color", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
