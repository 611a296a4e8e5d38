package handlers_test

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wexp/api/internal/api/handlers"
	"wexp/api/internal/core/domain"
	"wexp/api/internal/infrastructure/crypto"
	"wexp/api/internal/telemetry"
)

const testAppSecret = "handler-test-app-secret-0987654321"

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

func newTestCodec(t *testing.T) *crypto.FlowCodec {
	t.Helper()
	der := x509.MarshalPKCS1PrivateKey(testRSAKey(t))
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))

	codec, err := crypto.NewFlowCodec(crypto.CodecConfig{
		PrivateKeyPEM: pemStr,
		AppSecret:     testAppSecret,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), telemetry.NewHub())
	require.NoError(t, err)
	return codec
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// encryptedEnvelope builds a wire-faithful request body plus the key/IV used,
// so tests can decrypt the handler's response externally.
func encryptedEnvelope(t *testing.T, payload any) (body []byte, aesKey []byte, iv []byte) {
	t.Helper()

	aesKey = make([]byte, 16)
	iv = make([]byte, 16)
	_, err := rand.Read(aesKey)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	plaintext, err := json.Marshal(payload)
	require.NoError(t, err)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &testRSAKey(t).PublicKey, aesKey, nil)
	require.NoError(t, err)

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
	require.NoError(t, err)
	sealed := aead.Seal(nil, iv, plaintext, nil)

	body, err = json.Marshal(domain.EncryptedFlowRequest{
		EncryptedAESKey:   base64.StdEncoding.EncodeToString(wrapped),
		EncryptedFlowData: base64.StdEncoding.EncodeToString(sealed),
		InitialVector:     base64.StdEncoding.EncodeToString(iv),
	})
	require.NoError(t, err)
	return body, aesKey, iv
}

func decryptHandlerResponse(t *testing.T, encoded string, aesKey, requestIV []byte) map[string]any {
	t.Helper()

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	flipped := make([]byte, len(requestIV))
	for i, b := range requestIV {
		flipped[i] = ^b
	}

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	aead, err := cipher.NewGCMWithNonceSize(block, len(flipped))
	require.NoError(t, err)
	plaintext, err := aead.Open(nil, flipped, sealed, nil)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(plaintext, &out))
	return out
}

// fakeExchangeService returns a canned response or error.
type fakeExchangeService struct {
	response any
	err      error
	gotLast  map[string]any
}

func (f *fakeExchangeService) Exchange(_ context.Context, payload map[string]any) (any, error) {
	f.gotLast = payload
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newFlowHandler(t *testing.T, svc *fakeExchangeService) *handlers.FlowHandler {
	t.Helper()
	return handlers.NewFlowHandler(newTestCodec(t), svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func postFlow(h *handlers.FlowHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/whatsapp/flow", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	h.HandleDataExchange(rec, req)
	return rec
}

func TestFlowHandler_DataExchange_Success(t *testing.T) {
	svc := &fakeExchangeService{response: map[string]any{"data": map[string]any{"status": "active"}}}
	h := newFlowHandler(t, svc)

	body, aesKey, iv := encryptedEnvelope(t, map[string]any{"version": "3.0", "action": "ping"})
	rec := postFlow(h, body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)

	// The body is the raw base64 string, no JSON envelope
	decrypted := decryptHandlerResponse(t, rec.Body.String(), aesKey, iv)
	assert.Equal(t, map[string]any{"data": map[string]any{"status": "active"}}, decrypted)

	// The service saw the decrypted payload
	assert.Equal(t, "ping", svc.gotLast["action"])
}

func TestFlowHandler_DataExchange_RejectsBadSignature(t *testing.T) {
	h := newFlowHandler(t, &fakeExchangeService{})
	body, _, _ := encryptedEnvelope(t, map[string]any{"action": "ping"})

	t.Run("Missing header", func(t *testing.T) {
		rec := postFlow(h, body, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Signature over different bytes", func(t *testing.T) {
		rec := postFlow(h, body, signBody([]byte("something else entirely")))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestFlowHandler_DataExchange_RejectsMalformedEnvelope(t *testing.T) {
	h := newFlowHandler(t, &fakeExchangeService{})

	t.Run("Invalid JSON", func(t *testing.T) {
		body := []byte("this is not json")
		rec := postFlow(h, body, signBody(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Missing envelope fields", func(t *testing.T) {
		body := []byte(`{"encrypted_aes_key": "QUJD"}`)
		rec := postFlow(h, body, signBody(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestFlowHandler_DataExchange_TamperedCiphertextIs421(t *testing.T) {
	h := newFlowHandler(t, &fakeExchangeService{})

	body, _, _ := encryptedEnvelope(t, map[string]any{"action": "ping"})

	var envelope domain.EncryptedFlowRequest
	require.NoError(t, json.Unmarshal(body, &envelope))
	sealed, err := base64.StdEncoding.DecodeString(envelope.EncryptedFlowData)
	require.NoError(t, err)
	sealed[0] ^= 0x01
	envelope.EncryptedFlowData = base64.StdEncoding.EncodeToString(sealed)
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)

	rec := postFlow(h, tampered, signBody(tampered))
	assert.Equal(t, http.StatusMisdirectedRequest, rec.Code)

	// Fail closed: no plaintext fragments in the response
	assert.Empty(t, rec.Body.String())
}

func TestFlowHandler_DataExchange_DisabledCodecIs503(t *testing.T) {
	codec, err := crypto.NewFlowCodec(crypto.CodecConfig{AppSecret: testAppSecret},
		slog.New(slog.NewTextHandler(io.Discard, nil)), telemetry.NewHub())
	require.NoError(t, err)
	h := handlers.NewFlowHandler(codec, &fakeExchangeService{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	body, _, _ := encryptedEnvelope(t, map[string]any{"action": "ping"})
	rec := postFlow(h, body, signBody(body))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFlowHandler_DataExchange_ServiceErrorIs500(t *testing.T) {
	h := newFlowHandler(t, &fakeExchangeService{err: errors.New("screen router exploded")})

	body, _, _ := encryptedEnvelope(t, map[string]any{"action": "ping"})
	rec := postFlow(h, body, signBody(body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
