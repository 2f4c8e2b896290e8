package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestHS256(t *testing.T) {
	v, err := New("hs256", "secret", "")
	require.NoError(t, err)

	tok := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"email": "Alice@X.io",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	id, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.io", id)

	expired := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub": "a", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	_, err = v.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": "a"})
	_, err = v.Validate(noExp)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
		"sub": "a", "exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Validate(wrongKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Validate(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRS256(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := New("RS256", "", path)
	require.NoError(t, err)

	tok := sign(t, jwt.SigningMethodRS256, priv, jwt.MapClaims{
		"sub": "bob@x.io",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	id, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "bob@x.io", id)

	hs := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub": "bob@x.io", "exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Validate(hs)
	assert.ErrorIs(t, err, ErrInvalidToken, "algorithm must be pinned")
}

func TestNew_Errors(t *testing.T) {
	_, err := New("none", "", "")
	assert.Error(t, err)
	_, err = New("HS256", "", "")
	assert.Error(t, err)
	_, err = New("RS256", "", filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "abc", "Basic abc", "Bearer "} {
		_, err := BearerToken(h)
		assert.Error(t, err, h)
	}
}
