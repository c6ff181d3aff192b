package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/stanstork/autorun-api/internal/authz"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireTenant writes a 401 and returns false when the request carries no
// tenant identity.
func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing tenant context")
		return "", false
	}
	return tenantID, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
