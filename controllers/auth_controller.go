package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"lawsim/config"
	"lawsim/models"
	"lawsim/utils"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"omitempty,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	SessionID    string       `json:"session_id,omitempty"`
	User         *models.User `json:"user"`
}

// GoogleUser is the subset of the userinfo endpoint we use
type GoogleUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	Verified bool   `json:"verified_email"`
}

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type AuthController struct {
	DB    *gorm.DB
	OAuth *oauth2.Config

	// FetchGoogleUser exchanges an authorization code for the Google profile
	FetchGoogleUser func(ctx context.Context, code string) (*GoogleUser, error)
}

func NewAuthController(db *gorm.DB, cfg config.OAuthConfig) *AuthController {
	ac := &AuthController{
		DB: db,
		OAuth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
	}
	ac.FetchGoogleUser = ac.exchangeGoogleCode
	return ac
}

func (ac *AuthController) issueTokens(c *fiber.Ctx, user *models.User, status int) error {
	accessToken, refreshToken, sessionID, err := utils.GenerateJWTToken(user)
	if err != nil {
		return writeError(c, fmt.Errorf("generate tokens: %w", err))
	}
	return c.Status(status).JSON(AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		User:         user,
	})
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	email := utils.NormalizeEmail(req.Email)

	var existing models.User
	if err := ac.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Email already registered",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return writeError(c, fmt.Errorf("hash password: %w", err))
	}

	user := models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		Name:         req.Name,
		Role:         models.RoleStudent,
		IsActive:     true,
		TokenVersion: 1,
	}
	if org, err := models.CreateDefaultOrganization(ac.DB); err == nil {
		user.OrganizationID = &org.ID
	}
	if err := ac.DB.Create(&user).Error; err != nil {
		return writeError(c, fmt.Errorf("create user: %w", err))
	}

	utils.LogEvent("user_registered", map[string]interface{}{"user_id": user.ID})
	return ac.issueTokens(c, &user, fiber.StatusCreated)
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	var user models.User
	if err := ac.DB.Where("email = ?", utils.NormalizeEmail(req.Email)).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}
	if !user.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Account is not active",
		})
	}

	return ac.issueTokens(c, &user, fiber.StatusOK)
}

func (ac *AuthController) RefreshToken(c *fiber.Ctx) error {
	var req RefreshTokenRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	claims, err := utils.ParseJWTToken(req.RefreshToken)
	if err != nil || claims.TokenType != utils.TokenTypeRefresh {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid refresh token",
		})
	}

	var user models.User
	if err := ac.DB.First(&user, claims.UserID).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not found",
		})
	}
	if !user.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Account is not active",
		})
	}
	if claims.TokenVersion != user.TokenVersion {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid token version",
		})
	}

	return ac.issueTokens(c, &user, fiber.StatusOK)
}

// Logout invalidates every token issued to the user so far
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	user := currentUser(c)
	if err := ac.DB.Model(user).Update("token_version", gorm.Expr("token_version + 1")).Error; err != nil {
		return writeError(c, err)
	}
	c.ClearCookie("access_token", "refresh_token")
	return c.JSON(fiber.Map{
		"message": "Logged out",
	})
}

func (ac *AuthController) Me(c *fiber.Ctx) error {
	return c.JSON(currentUser(c))
}

func (ac *AuthController) GoogleOAuth(c *fiber.Ctx) error {
	state := uuid.NewString()

	cookie := new(fiber.Cookie)
	cookie.Name = "oauth_state"
	cookie.Value = state
	cookie.Expires = time.Now().Add(10 * time.Minute)
	cookie.HTTPOnly = true
	cookie.Secure = config.AppConfig.IsProduction()
	cookie.SameSite = "Lax"
	c.Cookie(cookie)

	url := ac.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline)
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

func (ac *AuthController) GoogleOAuthCallback(c *fiber.Ctx) error {
	state := c.Query("state")
	cookieState := c.Cookies("oauth_state")
	if state == "" || cookieState == "" || state != cookieState {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid state parameter",
		})
	}
	c.ClearCookie("oauth_state")

	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Authorization code not provided",
		})
	}

	googleUser, err := ac.FetchGoogleUser(c.UserContext(), code)
	if err != nil {
		utils.LogError("google_oauth_failed", err, nil)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to fetch Google profile",
		})
	}
	if googleUser.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Google account email is required",
		})
	}

	user, err := ac.findOrCreateGoogleUser(googleUser)
	if err != nil {
		return writeError(c, err)
	}
	if !user.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Account is not active",
		})
	}

	accessToken, refreshToken, sessionID, err := utils.GenerateJWTToken(user)
	if err != nil {
		return writeError(c, fmt.Errorf("generate tokens: %w", err))
	}

	secure := config.AppConfig.IsProduction()
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		Expires:  time.Now().Add(config.AppConfig.AccessTokenTTL),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: "Lax",
	})
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    refreshToken,
		Expires:  time.Now().Add(config.AppConfig.RefreshTokenTTL),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: "Lax",
	})

	return c.JSON(AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		User:         user,
	})
}

// findOrCreateGoogleUser matches on Google id first, then email
func (ac *AuthController) findOrCreateGoogleUser(g *GoogleUser) (*models.User, error) {
	var user models.User
	err := ac.DB.Where("google_id = ?", g.ID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ac.DB.Where("email = ?", utils.NormalizeEmail(g.Email)).First(&user).Error
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Email:        utils.NormalizeEmail(g.Email),
			Name:         g.Name,
			GoogleID:     &g.ID,
			AvatarURL:    &g.Picture,
			Role:         models.RoleStudent,
			IsActive:     true,
			TokenVersion: 1,
		}
		if org, err := models.CreateDefaultOrganization(ac.DB); err == nil {
			user.OrganizationID = &org.ID
		}
		if err := ac.DB.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		utils.LogEvent("user_registered", map[string]interface{}{"user_id": user.ID, "provider": "google"})
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	if user.GoogleID == nil || *user.GoogleID != g.ID || user.AvatarURL == nil || *user.AvatarURL != g.Picture {
		user.GoogleID = &g.ID
		user.AvatarURL = &g.Picture
		if err := ac.DB.Model(&user).Updates(map[string]interface{}{
			"google_id":  g.ID,
			"avatar_url": g.Picture,
		}).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	}
	return &user, nil
}

func (ac *AuthController) exchangeGoogleCode(ctx context.Context, code string) (*GoogleUser, error) {
	token, err := ac.OAuth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange token: %w", err)
	}

	client := ac.OAuth.Client(ctx, token)
	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google api error: %s", string(body))
	}

	var g GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, fmt.Errorf("parse user info: %w", err)
	}
	return &g, nil
}
