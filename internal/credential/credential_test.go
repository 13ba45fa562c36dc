package credential

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("credential-test-key"))
	require.NoError(t, err)
	return token
}

func TestSubjectFromRegisteredClaim(t *testing.T) {
	token := sign(t, jwt.RegisteredClaims{Subject: "u1"})

	got, err := Subject(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", got)
}

func TestSubjectFallsBackToUserIDClaim(t *testing.T) {
	token := sign(t, jwt.MapClaims{"user_id": "u7"})

	got, err := Subject(token)
	require.NoError(t, err)
	assert.Equal(t, "u7", got)
}

func TestSubjectWithoutIdentityClaim(t *testing.T) {
	token := sign(t, jwt.MapClaims{"scope": "chat"})

	_, err := Subject(token)
	assert.ErrorIs(t, err, ErrNoSubject)
}

func TestSubjectRejectsGarbage(t *testing.T) {
	_, err := Subject("not-a-jwt")
	assert.Error(t, err)
}

func TestStaticSourceRotation(t *testing.T) {
	src := NewStaticSource("")

	_, err := src.Token()
	assert.ErrorIs(t, err, ErrNoCredential)

	first := sign(t, jwt.RegisteredClaims{Subject: "u1"})
	src.Set(first)

	got, err := SubjectOf(src)
	require.NoError(t, err)
	assert.Equal(t, "u1", got)

	// Rotation is visible on the very next read.
	src.Set(sign(t, jwt.RegisteredClaims{Subject: "u2"}))
	got, err = SubjectOf(src)
	require.NoError(t, err)
	assert.Equal(t, "u2", got)
}
