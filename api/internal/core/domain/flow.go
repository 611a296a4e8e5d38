package domain

import (
	"context"
	"errors"
)

// ==============================================================================
// 1. Wire Types (WhatsApp Flow Data-Exchange Channel)
// ==============================================================================

// EncryptedFlowRequest is the envelope the platform POSTs to the Flow data
// exchange endpoint. All three fields are opaque base64 strings; nothing can
// be validated semantically before decryption.
type EncryptedFlowRequest struct {
	// RSA-OAEP ciphertext of the one-time AES-128 key
	EncryptedAESKey string `json:"encrypted_aes_key" validate:"required,base64"`
	// AES-GCM ciphertext with the 16-byte auth tag appended
	EncryptedFlowData string `json:"encrypted_flow_data" validate:"required,base64"`
	// IV/nonce used for the inbound GCM operation, length as transmitted
	InitialVector string `json:"initial_vector" validate:"required,base64"`
}

// FlowKeyMaterial is the per-request symmetric key and IV recovered during
// decryption. It is owned by a single request/response cycle: the response
// encryption needs it, and nothing else may hold on to it.
type FlowKeyMaterial struct {
	Key []byte
	IV  []byte
}

// ==============================================================================
// 2. Error Taxonomy
// ==============================================================================

var (
	// ErrFlowNotConfigured means the private key is absent and the Flow
	// capability is disabled. Non-retryable until the operator fixes config.
	ErrFlowNotConfigured = errors.New("flow: codec not configured")

	// ErrDecryptionFailed covers every inbound failure (base64, key unwrap,
	// GCM tag, JSON). Deliberately opaque so the endpoint cannot be used as
	// a decryption oracle; the cause is visible only to internal diagnostics.
	ErrDecryptionFailed = errors.New("flow: decryption failed")

	// ErrEncryptionFailed means the response object could not be serialized
	// or sealed. Treated as a caller bug, fatal to that single response.
	ErrEncryptionFailed = errors.New("flow: encryption failed")
)

// ==============================================================================
// 3. Service Contracts
// ==============================================================================

// FlowExchangeService interprets a decrypted Flow payload and produces the
// response object to be encrypted back to the platform.
type FlowExchangeService interface {
	Exchange(ctx context.Context, payload map[string]any) (any, error)
}

// OperatorClaims is the verified identity attached to diagnostics requests.
type OperatorClaims struct {
	Subject string
	TokenID string
}

// TokenVerifier validates a diagnostics bearer token.
type TokenVerifier interface {
	Verify(tokenString string) (*OperatorClaims, error)
}

type contextKey string

// OperatorContextKey carries *OperatorClaims through the request context.
const OperatorContextKey contextKey = "wexp.operator"
