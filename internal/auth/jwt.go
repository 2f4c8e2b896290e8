// Package auth validates bearer tokens issued elsewhere. Issuing tokens is not done here.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/connectify/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

type JWTValidator struct {
	alg string
	key interface{}
}

// NewHS256 validates tokens signed with a shared secret.
func NewHS256(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("hs256 secret is empty")
	}
	return &JWTValidator{alg: "HS256", key: []byte(secret)}, nil
}

// NewRS256 validates tokens against a PEM encoded RSA public key.
func NewRS256(publicKeyPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTValidator{alg: "RS256", key: pub}, nil
}

func New(alg, secret, publicKeyPath string) (*JWTValidator, error) {
	switch strings.ToUpper(alg) {
	case "RS256":
		return NewRS256(publicKeyPath)
	case "HS256":
		return NewHS256(secret)
	default:
		return nil, fmt.Errorf("unsupported jwt alg %q", alg)
	}
}

// Validate checks signature and expiry and returns the identity the token was issued for,
// taken from the email, sub or user_id claim in that order.
func (j *JWTValidator) Validate(tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return j.key, nil
	}, jwt.WithValidMethods([]string{j.alg}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", ErrInvalidToken
	}
	for _, k := range []string{"email", "sub", "user_id"} {
		if v, ok := claims[k].(string); ok && v != "" {
			return domain.NormalizeIdentity(v), nil
		}
	}
	return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
