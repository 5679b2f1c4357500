package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/taskie/internal/auth"
	"github.com/dukerupert/taskie/internal/store"
)

// SessionCookieName is the cookie carrying the session token for browser clients.
const SessionCookieName = "taskie_session"

// SessionToken returns the session token from the cookie or a Bearer
// Authorization header, preferring the header.
func SessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// RequireAuth validates the session token and populates AuthContext.
// A session whose household membership no longer exists is treated as
// having no household selected.
func RequireAuth(sessionStore *store.SessionStore, householdStore *store.HouseholdStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			sess, err := sessionStore.GetByToken(token)
			if err != nil || sess == nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ac := auth.AuthContext{
				UserID:    sess.UserID,
				SessionID: sess.ID,
			}
			if sess.HouseholdID != nil {
				member, err := householdStore.GetMember(*sess.HouseholdID, sess.UserID)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "failed to load membership")
					return
				}
				if member != nil {
					ac.HouseholdID = member.HouseholdID
					ac.Role = member.Role
				}
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireHousehold rejects requests whose session has no household selected.
func RequireHousehold(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.HouseholdID(r.Context()) == 0 {
			writeError(w, http.StatusForbidden, "no household selected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
