package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"tunesync-service/internal/config"
	"tunesync-service/internal/services"
)

const stateCookie = "oauth_state"

type AuthHandler struct {
	oauth       *oauth2.Config
	userService *services.UserService
	apiBaseURL  string
}

func NewAuthHandler(cfg config.CatalogConfig, userService *services.UserService) *AuthHandler {
	return &AuthHandler{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"user-read-private"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userService: userService,
		apiBaseURL:  cfg.BaseURL,
	}
}

// Login starts the OAuth flow by redirecting to the catalog's consent page.
func (h *AuthHandler) Login(c *gin.Context) {
	state, err := randomState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start login"})
		return
	}
	c.SetCookie(stateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.oauth.AuthCodeURL(state))
}

// Callback finishes the OAuth flow, upserts the user and hands back both the
// API session token and the gateway credential.
func (h *AuthHandler) Callback(c *gin.Context) {
	expected, err := c.Cookie(stateCookie)
	if err != nil || expected == "" || c.Query("state") != expected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}

	token, err := h.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		slog.Error("OAuth exchange failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		return
	}

	client := h.oauth.Client(c.Request.Context(), token)
	profile, err := services.FetchProfile(c.Request.Context(), client, h.apiBaseURL)
	if err != nil {
		slog.Error("Profile fetch failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load profile"})
		return
	}

	user, err := h.userService.UpsertFromProfile(c.Request.Context(), profile)
	if err != nil {
		slog.Error("User upsert failed", "error", err, "user", profile.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save user"})
		return
	}

	jwtToken, err := h.userService.GenerateJWT(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":         jwtToken,
		"gateway_token": user.Token,
		"user":          user.ToResponse(),
	})
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
