package server

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key-for-jwt-signing-minimum-32-bytes"

func setupTestJWTService(_ *testing.T) *JWTService {
	return NewJWTService(&config.JWTConfig{
		Secret:          testJWTSecret,
		Issuer:          "content-runs",
		ExpirationHours: 24,
	})
}

func TestJWTService_RoundTrip(t *testing.T) {
	service := setupTestJWTService(t)
	user := &types.User{ID: uuid.New(), Role: types.RoleAdmin}

	token, err := service.GenerateToken(user)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, types.RoleAdmin, claims.Role)
	assert.Equal(t, "content-runs", claims.Issuer)
	assert.Equal(t, user.ID.String(), claims.Subject)

	id, err := service.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestJWTService_Expired(t *testing.T) {
	service := setupTestJWTService(t)
	issued := time.Now()
	service.now = func() time.Time { return issued }
	token, err := service.GenerateToken(&types.User{ID: uuid.New()})
	require.NoError(t, err)

	service.now = func() time.Time { return issued.Add(25 * time.Hour) }
	_, err = service.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestJWTService_Rejects(t *testing.T) {
	service := setupTestJWTService(t)
	userID := uuid.New()

	sign := func(method jwt.SigningMethod, key any, issuer string) string {
		claims := &Claims{
			UserID: userID,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("another-secret"), "content-runs")},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte(testJWTSecret), "content-runs")},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte(testJWTSecret), "someone-else")},
		{"unsigned", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, "content-runs")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ValidateToken(tt.token)
			assert.Error(t, err)
		})
	}
}
