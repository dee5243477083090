package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims *CustomClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims(scope string) *CustomClaims {
	return &CustomClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestNewValidator_RejectsShortSecret(t *testing.T) {
	_, err := NewValidator("too-short")
	assert.Error(t, err)
}

func TestValidateToken_Valid(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	tokenString := signToken(t, testSecret, validClaims(ScopeAdmin))
	claims, err := v.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", claims.Subject)
	assert.Equal(t, ScopeAdmin, claims.Scope)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	tokenString := signToken(t, "ffffffffffffffffffffffffffffffff", validClaims(ScopeAdmin))
	_, err = v.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	claims := validClaims(ScopeAdmin)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	_, err = v.ValidateToken(signToken(t, testSecret, claims))
	assert.Error(t, err)
}

func TestValidateToken_MissingExpiry(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	claims := validClaims(ScopeAdmin)
	claims.ExpiresAt = nil
	_, err = v.ValidateToken(signToken(t, testSecret, claims))
	assert.Error(t, err)
}

func TestValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims(ScopeAdmin))
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	_, err = v.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestHasScope(t *testing.T) {
	cases := []struct {
		scope string
		want  string
		has   bool
	}{
		{ScopeAdmin, ScopeRead, true}, // admin implies everything
		{ScopeAdmin, ScopeAdmin, true},
		{ScopeRead, ScopeRead, true},
		{ScopeRead, ScopeAdmin, false},
		{"admin:read other", ScopeRead, true},
		{"", ScopeRead, false},
	}
	for _, tc := range cases {
		c := &CustomClaims{Scope: tc.scope}
		assert.Equal(t, tc.has, c.HasScope(tc.want), "scope=%q want=%q", tc.scope, tc.want)
	}
}

func TestGetAllowedOrigins(t *testing.T) {
	defaults := []string{"http://localhost:3000"}
	assert.Equal(t, defaults, GetAllowedOrigins("", defaults))
	assert.Equal(t,
		[]string{"https://a.example.com", "https://b.example.com"},
		GetAllowedOrigins("https://a.example.com, https://b.example.com", defaults))
}
