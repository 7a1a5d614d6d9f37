package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSecret = []byte("test-secret")

type fakeAccounts map[string]string

func (f fakeAccounts) DisplayName(userID string) (string, bool) {
	name, ok := f[userID]
	return name, ok
}

func signToken(t *testing.T, subject, name string, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestResolveValidToken(t *testing.T) {
	r := NewJWTResolver(testSecret, nil, zap.NewNop().Sugar())

	ident, ok := r.Resolve(signToken(t, "user-1", "Ada", testSecret))
	require.True(t, ok)
	assert.Equal(t, "user-1", ident.ID)
	assert.Equal(t, "Ada", ident.DisplayName)
	assert.True(t, ident.Authenticated)
}

func TestResolveAccountNameWins(t *testing.T) {
	accounts := fakeAccounts{"user-1": "Ada Lovelace"}
	r := NewJWTResolver(testSecret, accounts, zap.NewNop().Sugar())

	ident, ok := r.Resolve(signToken(t, "user-1", "stale-name", testSecret))
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", ident.DisplayName)
}

func TestResolveRejectsBadSignature(t *testing.T) {
	r := NewJWTResolver(testSecret, nil, zap.NewNop().Sugar())

	_, ok := r.Resolve(signToken(t, "user-1", "Ada", []byte("wrong-secret")))
	assert.False(t, ok)
}

func TestResolveRejectsGarbage(t *testing.T) {
	r := NewJWTResolver(testSecret, nil, zap.NewNop().Sugar())

	_, ok := r.Resolve("not.a.token")
	assert.False(t, ok)

	_, ok = r.Resolve("")
	assert.False(t, ok)
}

func TestResolveRejectsMissingSubject(t *testing.T) {
	r := NewJWTResolver(testSecret, nil, zap.NewNop().Sugar())

	_, ok := r.Resolve(signToken(t, "", "Ada", testSecret))
	assert.False(t, ok)
}

func TestResolveDisabledWithoutSecret(t *testing.T) {
	r := NewJWTResolver(nil, nil, zap.NewNop().Sugar())

	_, ok := r.Resolve(signToken(t, "user-1", "Ada", testSecret))
	assert.False(t, ok)
}

func TestGuest(t *testing.T) {
	g := Guest("Visitor")
	assert.Equal(t, "Visitor", g.DisplayName)
	assert.False(t, g.Authenticated)
	assert.True(t, strings.HasPrefix(g.ID, "guest-"))

	anon := Guest("")
	assert.Equal(t, "Guest", anon.DisplayName)
	assert.NotEqual(t, g.ID, anon.ID)
}
