package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tunesync-service/internal/gateway"
	"tunesync-service/internal/models"
)

// Profile is the identity shape returned by the catalog's account endpoint.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Images      []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// UserService manages user records and credentials on top of the directory.
type UserService struct {
	users         gateway.UserDirectory
	jwtSecret     string
	jwtExpiration time.Duration
}

func NewUserService(users gateway.UserDirectory, jwtSecret string, jwtExpiration time.Duration) *UserService {
	return &UserService{
		users:         users,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

// UpsertFromProfile creates or refreshes the local record for an external
// account. New users get a freshly minted gateway token; existing users keep
// theirs so open sessions survive a re-login.
func (s *UserService) UpsertFromProfile(ctx context.Context, profile *Profile) (*models.User, error) {
	avatar := ""
	if len(profile.Images) > 0 {
		avatar = profile.Images[0].URL
	}

	user, err := s.users.FindByID(ctx, profile.ID)
	if errors.Is(err, models.ErrUserNotFound) {
		token, err := mintToken()
		if err != nil {
			return nil, err
		}
		user = &models.User{
			ID:         profile.ID,
			Username:   profile.DisplayName,
			Avatar:     avatar,
			Token:      token,
			Visibility: models.VisibilityEveryone,
			Presence:   models.PresenceModeNone,
		}
		if err := s.users.Save(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return user, nil
	}
	if err != nil {
		return nil, err
	}

	user.Username = profile.DisplayName
	user.Avatar = avatar
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to refresh user: %w", err)
	}
	return user, nil
}

// GetByID returns the user record for the given id.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

// UpdateSettings patches the social settings of a user and returns the
// updated record.
func (s *UserService) UpdateSettings(ctx context.Context, id string, req *models.UpdateSettingsRequest) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Visibility != nil {
		user.Visibility = *req.Visibility
	}
	if req.Presence != nil {
		user.Presence = *req.Presence
	}
	if req.Status != nil {
		user.Status = *req.Status
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	return user, nil
}

// GenerateJWT issues the API session token handed to the web client after
// the OAuth callback completes.
func (s *UserService) GenerateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(s.jwtExpiration).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// ValidateJWT parses an API session token and returns the user id it names.
func (s *UserService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("missing user_id claim")
	}
	return userID, nil
}

// mintToken produces the opaque credential presented during the gateway
// handshake.
func mintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
