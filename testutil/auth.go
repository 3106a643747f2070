package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lawsim/config"
	"lawsim/models"
	"lawsim/utils"
)

// UseJWTSecret configures token signing for the test and restores the
// previous config afterwards
func UseJWTSecret(t *testing.T) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig.JWTSecret = "test-secret"
	config.AppConfig.AccessTokenTTL = 15 * time.Minute
	config.AppConfig.RefreshTokenTTL = time.Hour
	t.Cleanup(func() { config.AppConfig = prev })
}

// Tokens issues an access and a refresh token for user
func Tokens(t *testing.T, user *models.User) (access, refresh string) {
	t.Helper()
	access, refresh, _, err := utils.GenerateJWTToken(user)
	require.NoError(t, err)
	return access, refresh
}

// Bearer is the Authorization header value for user
func Bearer(t *testing.T, user *models.User) string {
	t.Helper()
	access, _ := Tokens(t, user)
	return "Bearer " + access
}
