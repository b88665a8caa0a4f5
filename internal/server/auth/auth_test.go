package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Enabled:           true,
		TokenIssuer:       "deeprecall-test",
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService(testConfig())

	token, err := svc.GenerateAccessToken(context.Background(), "alice@example.com", "laptop")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Subject)
	assert.Equal(t, "laptop", claims.Device)
	assert.Equal(t, "deeprecall-test", claims.Issuer)
}

func TestTokenWithoutDevice(t *testing.T) {
	svc := NewAuthService(testConfig())

	token, err := svc.GenerateAccessToken(context.Background(), "alice@example.com", "")
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Empty(t, claims.Device)
}

func TestTokenRequiresSubject(t *testing.T) {
	svc := NewAuthService(testConfig())

	_, err := svc.GenerateAccessToken(context.Background(), "", "laptop")
	assert.Error(t, err)
}

func TestTokenWrongSecretRejected(t *testing.T) {
	svc := NewAuthService(testConfig())
	token, err := svc.GenerateAccessToken(context.Background(), "alice@example.com", "laptop")
	require.NoError(t, err)

	other := NewAuthService(&Config{
		Enabled:           true,
		TokenIssuer:       "deeprecall-test",
		AccessTokenSecret: "different-secret",
	})
	_, err = other.ValidateAccessToken(context.Background(), token)
	assert.Error(t, err)
}

func TestTokenExpiryEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTokenExpiry = -time.Minute
	svc := NewAuthService(cfg)

	token, err := svc.GenerateAccessToken(context.Background(), "alice@example.com", "laptop")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(context.Background(), token)
	assert.Error(t, err)
}

func TestTokenWrongAlgorithmRejected(t *testing.T) {
	cfg := testConfig()
	svc := NewAuthService(cfg)

	// a token signed with a method other than HS256 must not validate, even
	// with the right secret
	claims := Claims{
		Device: "laptop",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "alice@example.com",
			Issuer:  cfg.TokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(cfg.AccessTokenSecret))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(context.Background(), signed)
	assert.Error(t, err)
}

func TestTokenGarbageRejected(t *testing.T) {
	svc := NewAuthService(testConfig())

	_, err := svc.ValidateAccessToken(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	disabled := &Config{Enabled: false}
	assert.NoError(t, disabled.Validate())

	enabled := &Config{Enabled: true}
	assert.Error(t, enabled.Validate())

	enabled.TokenIssuer = "x"
	assert.Error(t, enabled.Validate())

	enabled.AccessTokenSecret = "y"
	assert.NoError(t, enabled.Validate())
}
