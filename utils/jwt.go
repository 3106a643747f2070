package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"lawsim/config"
	"lawsim/models"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type Claims struct {
	UserID       uint   `json:"user_id"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
	TokenType    string `json:"token_type"`
	SessionID    string `json:"session_id"`
	jwt.RegisteredClaims
}

// GenerateJWTToken issues an access and a refresh token sharing one session id
func GenerateJWTToken(user *models.User) (string, string, string, error) {
	sessionID := uuid.NewString()
	now := time.Now()

	accessToken, err := signToken(user, TokenTypeAccess, sessionID, now, config.AppConfig.AccessTokenTTL)
	if err != nil {
		return "", "", "", err
	}
	refreshToken, err := signToken(user, TokenTypeRefresh, sessionID, now, config.AppConfig.RefreshTokenTTL)
	if err != nil {
		return "", "", "", err
	}
	return accessToken, refreshToken, sessionID, nil
}

func signToken(user *models.User, tokenType, sessionID string, now time.Time, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:       user.ID,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		TokenType:    tokenType,
		SessionID:    sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

func ParseJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
