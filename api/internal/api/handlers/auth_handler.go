// api/internal/api/handlers/auth_handler.go
package handlers

import (
	"encoding/json"
	"net/http"

	"wexp/api/internal/core/services"
)

type TokenRequest struct {
	Passphrase string `json:"passphrase" validate:"required,min=12"`
}

// AuthHandler issues diagnostics tokens for the operator dashboard.
type AuthHandler struct {
	Tokens *services.TokenService
}

func NewAuthHandler(tokens *services.TokenService) *AuthHandler {
	return &AuthHandler{Tokens: tokens}
}

// Login handles POST /api/v1/auth/token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"message": "Invalid JSON payload"}`, http.StatusBadRequest)
		return
	}

	if err := validate.Struct(req); err != nil {
		http.Error(w, `{"message": "Invalid credentials"}`, http.StatusBadRequest)
		return
	}

	token, err := h.Tokens.Login(req.Passphrase)
	if err != nil {
		// Same response for wrong passphrase and unconfigured access
		http.Error(w, `{"message": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}
