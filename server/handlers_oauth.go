package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HandleGoogleOAuthStart initiates the Google OAuth flow for the results sheet.
func (h *Handlers) HandleGoogleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cfg.GoogleClientID == "" || h.deps.Cfg.GoogleRedirectURI == "" {
		http.Error(w, "google oauth not configured (need GOOGLE_CLIENT_ID + GOOGLE_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, h.deps.Sheets.AuthCodeURL(st), http.StatusFound)
}

// HandleGoogleOAuthCallback handles the OAuth callback and stores tokens.
func (h *Handlers) HandleGoogleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	tok, err := h.deps.Sheets.Exchange(r.Context(), code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":                "ok",
		"expiry":                tok.Expiry,
		"access_token_present":  tok.AccessToken != "",
		"refresh_token_present": tok.RefreshToken != "",
	}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
