package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sportfolio/internal/store"
)

const (
	sessionCookie = "session_token"
	sessionTTL    = 7 * 24 * time.Hour
)

type ctxKey int

const userKey ctxKey = 0

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string    `json:"token"`
	User  *userView `json:"user"`
}

// userView is the public shape of a user; the password hash never leaves
// the store.
type userView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Balance   int64  `json:"balance"`
	IsPremium bool   `json:"isPremium"`
	IsAdmin   bool   `json:"isAdmin"`
}

func viewOf(u *store.User) *userView {
	return &userView{
		ID:        u.ID,
		Username:  u.Username,
		Balance:   u.Balance,
		IsPremium: u.IsPremium,
		IsAdmin:   u.IsAdmin,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Password) < 8 {
		http.Error(w, "username must be 3+ chars, password 8+", http.StatusBadRequest)
		return
	}

	user, err := s.store.CreateUser(req.Username, req.Password)
	if err == store.ErrUserExists {
		http.Error(w, "username taken", http.StatusConflict)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.issueSession(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.store.AuthenticateUser(req.Username, req.Password)
	if err == store.ErrUserNotFound || err == store.ErrInvalidPassword {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.issueSession(w, user)
}

func (s *Server) issueSession(w http.ResponseWriter, user *store.User) {
	token := uuid.New().String()
	if err := s.store.CreateSession(token, user.ID, time.Now().Add(sessionTTL)); err != nil {
		s.serverError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.IsProduction(),
		Expires:  time.Now().Add(sessionTTL),
	})
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: viewOf(user)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := s.sessionToken(r); token != "" {
		_ = s.store.DeleteSession(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:    sessionCookie,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// sessionToken pulls the session token from the cookie or a Bearer header.
func (s *Server) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// currentUser resolves the authenticated user for a request, or nil.
func (s *Server) currentUser(r *http.Request) *store.User {
	if u, ok := r.Context().Value(userKey).(*store.User); ok {
		return u
	}

	if s.cfg.DevBypassAuth && s.devUser != nil {
		return s.devUser
	}

	token := s.sessionToken(r)
	if token == "" {
		return nil
	}
	session, err := s.store.GetSession(token)
	if err != nil || session == nil {
		return nil
	}
	user, err := s.store.GetUserByID(session.UserID)
	if err != nil {
		return nil
	}
	return user
}

// requireAuth wraps handlers that need a signed-in user.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.currentUser(r)
		if user == nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

// requireAdmin gates the admin surface: either the configured API token or
// an admin user session.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.cfg.AdminAPIToken != "" && auth == s.cfg.AdminAPIToken {
			next(w, r)
			return
		}
		user := s.currentUser(r)
		if user != nil && user.IsAdmin {
			next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
			return
		}
		http.Error(w, "admin access required", http.StatusForbidden)
	}
}
