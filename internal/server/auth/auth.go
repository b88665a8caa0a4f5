package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService mints and validates the bearer tokens that scope every request
// to one principal and one device.
type AuthService struct {
	config *Config
}

func NewAuthService(config *Config) *AuthService {
	return &AuthService{config: config}
}

func (s *AuthService) IsEnabled() bool {
	return s.config.Enabled
}

// GenerateAccessToken mints a token for a principal/device pair. Used by the
// provisioning CLI; there is no interactive login flow on this server.
func (s *AuthService) GenerateAccessToken(ctx context.Context, subject, deviceID string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject must not be empty")
	}

	var expiresAt *jwt.NumericDate
	if s.config.AccessTokenExpiry > 0 {
		expiresAt = jwt.NewNumericDate(time.Now().Add(s.config.AccessTokenExpiry))
	}

	claims := Claims{
		Device: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    s.config.TokenIssuer,
			ExpiresAt: expiresAt,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.AccessTokenSecret))
}

// ValidateAccessToken parses and verifies a bearer token.
func (s *AuthService) ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := ParseClaims(tokenString, s.config.AccessTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("validate access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("validate access token: missing subject")
	}
	return claims, nil
}
