package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"wexp/api/internal/core/domain"
)

const (
	tokenIssuer   = "wexp-api"
	tokenLifetime = 15 * time.Minute
)

type WexpClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenService issues and validates short-lived HS256 tokens for the
// diagnostics channel. There is a single operator identity, authenticated by
// a bcrypt passphrase hash from configuration — no user table involved.
type TokenService struct {
	secret   []byte
	passHash []byte
}

func NewTokenService(secret, operatorPassHash string) *TokenService {
	return &TokenService{
		secret:   []byte(secret),
		passHash: []byte(operatorPassHash),
	}
}

// Login verifies the operator passphrase and issues a diagnostics token.
func (s *TokenService) Login(passphrase string) (string, error) {
	if len(s.passHash) == 0 {
		return "", errors.New("diagnostics access is not configured")
	}

	// Constant-time check
	if err := bcrypt.CompareHashAndPassword(s.passHash, []byte(passphrase)); err != nil {
		return "", errors.New("invalid credentials")
	}

	claims := WexpClaims{
		TokenType: "diagnostics",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "operator",
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify implements domain.TokenVerifier.
func (s *TokenService) Verify(tokenString string) (*domain.OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &WexpClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*WexpClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != "diagnostics" {
		return nil, errors.New("invalid token type")
	}

	return &domain.OperatorClaims{
		Subject: claims.Subject,
		TokenID: claims.ID,
	}, nil
}
