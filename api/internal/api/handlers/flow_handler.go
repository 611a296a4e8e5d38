// api/internal/api/handlers/flow_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"wexp/api/internal/core/domain"
	"wexp/api/internal/infrastructure/crypto"
)

// Use a single instance of Validate, it caches struct info
var validate = validator.New()

// FlowHandler terminates the WhatsApp Flow data-exchange channel: signature
// check, decrypt, business exchange, encrypt. The raw base64 string it writes
// IS the HTTP body — no JSON envelope.
type FlowHandler struct {
	Codec   *crypto.FlowCodec
	Service domain.FlowExchangeService
	Logger  *slog.Logger
}

func NewFlowHandler(codec *crypto.FlowCodec, service domain.FlowExchangeService, logger *slog.Logger) *FlowHandler {
	return &FlowHandler{
		Codec:   codec,
		Service: service,
		Logger:  logger,
	}
}

// HandleDataExchange handles POST /api/whatsapp/flow
func (h *FlowHandler) HandleDataExchange(w http.ResponseWriter, r *http.Request) {
	// 1. Read the RAW bytes for HMAC validation (safe due to MaxBytes middleware).
	// The signature covers the bytes exactly as transmitted; re-serializing
	// before hashing would invalidate the check.
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"message": "Failed to read body"}`, http.StatusBadRequest)
		return
	}

	// 2. Validate the HMAC signature (fails instantly if forged)
	signature := r.Header.Get("X-Hub-Signature-256")
	if !h.Codec.VerifySignature(rawBody, signature) {
		http.Error(w, `{"message": "Unauthorized: Invalid signature"}`, http.StatusUnauthorized)
		return
	}

	// 3. Decode the three-field envelope
	var req domain.EncryptedFlowRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		http.Error(w, `{"message": "Invalid JSON payload"}`, http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, `{"message": "Invalid flow envelope"}`, http.StatusBadRequest)
		return
	}

	// 4. Decrypt. The key material stays scoped to this request.
	payload, km, err := h.Codec.DecryptRequest(req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrFlowNotConfigured):
			http.Error(w, `{"message": "Flow channel disabled"}`, http.StatusServiceUnavailable)
		default:
			// 421 instructs the platform client to re-fetch the business
			// public key. No detail beyond the status code leaves here.
			w.WriteHeader(http.StatusMisdirectedRequest)
		}
		return
	}

	// 5. Business exchange on the decrypted payload
	response, err := h.Service.Exchange(r.Context(), payload)
	if err != nil {
		h.Logger.Error("Flow exchange failed", slog.Any("error", err))
		http.Error(w, `{"message": "Exchange failed"}`, http.StatusInternalServerError)
		return
	}

	// 6. Encrypt the response under the same key with the flipped IV
	encrypted, err := h.Codec.EncryptResponse(response, km)
	if err != nil {
		h.Logger.Error("Flow response encryption failed", slog.Any("error", err))
		http.Error(w, `{"message": "Encryption failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(encrypted))
}
