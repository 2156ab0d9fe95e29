package handlers

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func respondStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// respondLocked is the distinct "locked" error shape: the action needs a
// purchase or a seal/override, and the body points the client at the unlock
// path. Not to be confused with transient failures.
func respondLocked(w http.ResponseWriter, msg, unlock string) {
	respondStatus(w, http.StatusLocked, map[string]any{
		"code":   "locked",
		"error":  msg,
		"unlock": unlock,
	})
}

// respondQuota is the inline validation error for the free-tier upload limit.
func respondQuota(w http.ResponseWriter, limit int) {
	respondStatus(w, http.StatusUnprocessableEntity, map[string]any{
		"code":  "quota_exceeded",
		"error": "free upload quota exhausted",
		"limit": limit,
	})
}
