package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAdmin(t *testing.T) *Admin {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAdmin(string(hash), "signing-key", time.Hour)
}

func TestLoginAndVerify(t *testing.T) {
	a := newTestAdmin(t)
	token, exp, err := a.Login("s3cret")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, AdminSubject, claims.Subject)
}

func TestLogin_WrongPassword(t *testing.T) {
	_, _, err := newTestAdmin(t).Login("nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_Disabled(t *testing.T) {
	a := NewAdmin("", "", 0)
	assert.False(t, a.Enabled())
	_, _, err := a.Login("anything")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestVerify_Rejects(t *testing.T) {
	a := newTestAdmin(t)
	valid, _, err := a.Login("s3cret")
	require.NoError(t, err)

	other := NewAdmin(string(a.passwordHash), "other-key", time.Hour)
	expired := newTestAdmin(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Login("s3cret")
	require.NoError(t, err)

	wrongRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "viewer",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("signing-key"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: AdminSubject}).SignedString([]byte("signing-key"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		admin *Admin
		token string
	}{
		{"empty", a, ""},
		{"garbage", a, "not.a.jwt"},
		{"other secret", other, valid},
		{"expired", a, old},
		{"wrong role", a, wrongRole},
		{"no expiry", a, noExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.admin.Verify(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")))
}
