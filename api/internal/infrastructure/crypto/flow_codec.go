package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wexp/api/internal/core/domain"
	"wexp/api/internal/telemetry"
)

const (
	// The platform always wraps an AES-128 key. aes.NewCipher would happily
	// accept 24 or 32 bytes and silently switch algorithms, so the length is
	// enforced here instead of assumed.
	aesKeySize = 16

	// AES-GCM auth tags are fixed at 16 bytes and trail the ciphertext on the wire.
	gcmTagSize = 16
)

// CodecConfig is the immutable key material the codec holds for its lifetime.
// Both fields are optional: an empty private key disables the data-exchange
// path, an empty secret makes every signature check fail closed.
type CodecConfig struct {
	PrivateKeyPEM string
	AppSecret     string
}

// FlowCodec implements the hybrid encryption scheme of the WhatsApp Flow
// data-exchange channel: RSA-OAEP key transport plus AES-128-GCM payload
// encryption, with HMAC-SHA256 webhook signature verification.
//
// The codec is immutable after construction and safe for concurrent use; the
// per-request key material lives only inside a single call pair.
type FlowCodec struct {
	privateKey *rsa.PrivateKey
	appSecret  []byte
	logger     *slog.Logger
	hub        *telemetry.Hub
}

func NewFlowCodec(cfg CodecConfig, logger *slog.Logger, hub *telemetry.Hub) (*FlowCodec, error) {
	c := &FlowCodec{
		appSecret: []byte(cfg.AppSecret),
		logger:    logger,
		hub:       hub,
	}

	if cfg.PrivateKeyPEM == "" {
		return c, nil
	}

	key, err := ParseRSAPrivateKey([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("flow codec: %w", err)
	}
	if key.N.BitLen() < 2048 {
		logger.Warn("flow private key is shorter than 2048 bits", "bits", key.N.BitLen())
	}

	c.privateKey = key
	return c, nil
}

// Enabled reports whether the data-exchange path has a private key.
func (c *FlowCodec) Enabled() bool {
	return c.privateKey != nil
}

// ==============================================================================
// 1. Inbound: DecryptRequest
// ==============================================================================

// DecryptRequest unwraps the per-request AES key, authenticates and decrypts
// the Flow payload, and parses it as JSON. The recovered key material is
// returned alongside the payload because EncryptResponse needs it.
//
// Every failure past the configuration check collapses into the opaque
// domain.ErrDecryptionFailed: the endpoint must not act as a decryption
// oracle. The cause goes to the internal diagnostic channel only.
func (c *FlowCodec) DecryptRequest(req domain.EncryptedFlowRequest) (map[string]any, domain.FlowKeyMaterial, error) {
	var none domain.FlowKeyMaterial

	if c.privateKey == nil {
		return nil, none, domain.ErrFlowNotConfigured
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(req.EncryptedAESKey)
	if err != nil {
		return nil, none, c.decryptFailure("decode_aes_key", err)
	}
	flowData, err := base64.StdEncoding.DecodeString(req.EncryptedFlowData)
	if err != nil {
		return nil, none, c.decryptFailure("decode_flow_data", err)
	}
	iv, err := base64.StdEncoding.DecodeString(req.InitialVector)
	if err != nil {
		return nil, none, c.decryptFailure("decode_iv", err)
	}

	// OAEP with SHA-256 and no label, matching the platform's key wrap.
	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.privateKey, wrappedKey, nil)
	if err != nil {
		return nil, none, c.decryptFailure("unwrap_key", err)
	}
	if len(aesKey) != aesKeySize {
		return nil, none, c.decryptFailure("unwrap_key",
			fmt.Errorf("unwrapped key is %d bytes, want %d", len(aesKey), aesKeySize))
	}
	if len(flowData) < gcmTagSize {
		return nil, none, c.decryptFailure("split_tag", errors.New("flow data shorter than the auth tag"))
	}

	aead, err := c.newAEAD(aesKey, len(iv))
	if err != nil {
		return nil, none, c.decryptFailure("cipher_init", err)
	}

	// Open expects ciphertext||tag, which is exactly the wire layout. A tag
	// mismatch fails closed here; no partial plaintext ever escapes.
	plaintext, err := aead.Open(nil, iv, flowData, nil)
	if err != nil {
		return nil, none, c.decryptFailure("gcm_open", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, none, c.decryptFailure("parse_json", err)
	}

	return payload, domain.FlowKeyMaterial{Key: aesKey, IV: iv}, nil
}

// ==============================================================================
// 2. Outbound: EncryptResponse
// ==============================================================================

// EncryptResponse serializes v and seals it with the request's key under the
// flipped IV, returning the base64 string used verbatim as the HTTP body.
func (c *FlowCodec) EncryptResponse(v any, km domain.FlowKeyMaterial) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("flow response serialization failed", "error", err)
		return "", domain.ErrEncryptionFailed
	}

	aead, err := c.newAEAD(km.Key, len(km.IV))
	if err != nil {
		c.logger.Warn("flow response cipher init failed", "error", err)
		return "", domain.ErrEncryptionFailed
	}

	// The platform derives the response nonce by complementing every byte of
	// the request IV. Same key, guaranteed-distinct nonce. This is a protocol
	// requirement and must be reproduced exactly.
	flipped := make([]byte, len(km.IV))
	for i, b := range km.IV {
		flipped[i] = ^b
	}

	sealed := aead.Seal(nil, flipped, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// ==============================================================================
// 3. Webhook Signature Verification
// ==============================================================================

// VerifySignature checks the X-Hub-Signature-256 header against the exact raw
// request bytes. A missing or malformed header is a routine client/attacker
// behavior, so the outcome is a boolean, never an error.
func (c *FlowCodec) VerifySignature(rawBody []byte, signatureHeader string) bool {
	if len(c.appSecret) == 0 {
		c.logger.Warn("signature check failed: no app secret configured")
		return false
	}
	if signatureHeader == "" {
		c.logger.Warn("webhook request missing X-Hub-Signature-256 header")
		return false
	}

	// The platform sends the header in the format: "sha256=1234567890abcdef..."
	if !strings.HasPrefix(signatureHeader, "sha256=") {
		c.logger.Warn("webhook signature header is not sha256")
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, "sha256="))
	if err != nil {
		c.logger.Warn("webhook signature is not valid hex")
		return false
	}

	mac := hmac.New(sha256.New, c.appSecret)
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	// 🛡️ Constant-time comparison defeats timing attacks. A length mismatch
	// takes the same path as a digest mismatch: plain false.
	return subtle.ConstantTimeCompare(expected, provided) == 1
}

// ==============================================================================
// 4. Internals
// ==============================================================================

// newAEAD builds an AES-128-GCM instance sized to the IV exactly as it came
// off the wire. Most GCM stacks assume a 12-byte nonce; this protocol reuses
// whatever buffer was transmitted, so no fixed size is assumed here.
func (c *FlowCodec) newAEAD(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// decryptFailure records the real cause internally and returns the one
// opaque error the remote caller is allowed to see.
func (c *FlowCodec) decryptFailure(stage string, cause error) error {
	c.logger.Warn("flow decrypt failed", "stage", stage, "error", cause)
	c.hub.Broadcast(telemetry.ChannelFlow, stage, cause.Error())
	return domain.ErrDecryptionFailed
}
