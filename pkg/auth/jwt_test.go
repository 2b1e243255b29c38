package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret")

	token, err := svc.GenerateToken(42, time.Hour)
	require.NoError(t, err)

	id, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestJWTService_SubjectOnly(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "17"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := NewJWTService("secret").ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret")

	other, err := NewJWTService("other").GenerateToken(1, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExpiry, err := svc.GenerateToken(1, 0)
	require.NoError(t, err)
	_, err = svc.ValidateToken(noExpiry)
	assert.NoError(t, err, "zero ttl means no expiry")

	s := svc.(*jwtService)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := svc.GenerateToken(1, time.Hour)
	require.NoError(t, err)
	s.now = time.Now
	_, err = svc.ValidateToken(stale)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "abc"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(noSubject)
	assert.ErrorIs(t, err, ErrInvalidSubject)
}

func TestJWTService_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 5}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTService("secret").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
