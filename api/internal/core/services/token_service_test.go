package services_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"wexp/api/internal/core/services"
)

const (
	testSecret     = "super-secret-key-for-testing-purposes-1234567890"
	testPassphrase = "operator-passphrase-with-entropy"
)

func newTokenService(t *testing.T) *services.TokenService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassphrase), bcrypt.MinCost)
	require.NoError(t, err)
	return services.NewTokenService(testSecret, string(hash))
}

func TestTokenService_Login(t *testing.T) {
	svc := newTokenService(t)

	tokenString, err := svc.Login(testPassphrase)
	require.NoError(t, err)
	assert.NotEmpty(t, tokenString)

	// Verify claims directly
	token, err := jwt.ParseWithClaims(tokenString, &services.WexpClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)

	claims, ok := token.Claims.(*services.WexpClaims)
	require.True(t, ok)

	assert.Equal(t, "diagnostics", claims.TokenType)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, "wexp-api", claims.Issuer)
	assert.NotEmpty(t, claims.ID) // JTI should be present

	expectedExp := time.Now().Add(15 * time.Minute)
	assert.WithinDuration(t, expectedExp, claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenService_Login_Failures(t *testing.T) {
	svc := newTokenService(t)

	t.Run("Wrong passphrase", func(t *testing.T) {
		_, err := svc.Login("wrong-passphrase")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid credentials")
	})

	t.Run("Unconfigured hash", func(t *testing.T) {
		unconfigured := services.NewTokenService(testSecret, "")
		_, err := unconfigured.Login(testPassphrase)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})
}

func TestTokenService_Verify(t *testing.T) {
	svc := newTokenService(t)
	tokenString, err := svc.Login(testPassphrase)
	require.NoError(t, err)

	t.Run("Valid token", func(t *testing.T) {
		claims, err := svc.Verify(tokenString)
		require.NoError(t, err)
		assert.Equal(t, "operator", claims.Subject)
		assert.NotEmpty(t, claims.TokenID)
	})

	t.Run("Invalid: wrong secret", func(t *testing.T) {
		other := services.NewTokenService("wrong-secret-key", "")
		claims, err := other.Verify(tokenString)
		assert.Error(t, err)
		assert.Nil(t, claims)
	})

	t.Run("Invalid: malformed token", func(t *testing.T) {
		claims, err := svc.Verify("not.a.valid.token")
		assert.Error(t, err)
		assert.Nil(t, claims)
	})

	t.Run("Invalid: wrong token type", func(t *testing.T) {
		forged := jwt.NewWithClaims(jwt.SigningMethodHS256, services.WexpClaims{
			TokenType: "refresh",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "wexp-api",
				Subject:   "operator",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		signed, err := forged.SignedString([]byte(testSecret))
		require.NoError(t, err)

		claims, err := svc.Verify(signed)
		assert.Error(t, err)
		assert.Nil(t, claims)
		assert.Contains(t, err.Error(), "invalid token type")
	})
}
