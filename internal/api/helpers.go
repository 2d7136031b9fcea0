package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// writeJSON serializes payload with a status code. Falls back to a bare 500
// when encoding fails, which only happens on marshal-hostile types.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("API: failed to encode response: %v", err)
	}
}

// requireUserID reads the user id the trusted frontend passes along. This
// service sits behind the main application, which owns end-user
// authentication; requests arrive pre-authenticated.
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return "", false
	}
	return userID, true
}
