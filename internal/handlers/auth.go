package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// LoginHandler обрабатывает POST /api/auth/login
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	emailOK := subtle.ConstantTimeCompare([]byte(input.Email), []byte(h.AdminEmail)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(input.Password), []byte(h.AdminPassword)) == 1
	if h.AdminEmail == "" || !emailOK || !passOK {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.Tokens.IssueSession(input.Email, "admin", h.SessionTTL)
	if err != nil {
		log.Printf("issue session: %v", err)
		http.Error(w, "Failed to issue session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(h.SessionTTL.Seconds()),
	})
}

// RequireAdmin пропускает только запросы с валидной админской сессией
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}

		_, role, err := h.Tokens.ValidateSession(token)
		if err != nil || role != "admin" {
			http.Error(w, "Invalid or expired session", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
