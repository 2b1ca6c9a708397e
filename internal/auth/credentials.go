// ABOUTME: Bearer credential loading for the workbench client
// ABOUTME: Resolves the token from config, env, or file and inspects its claims without verifying

package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenEnvVar is checked when no token is configured explicitly.
const TokenEnvVar = "MARKETDESK_TOKEN"

// Source describes where LoadToken may find a token.
type Source struct {
	Token     string
	TokenFile string
}

// LoadToken resolves the bearer token. Order: explicit token,
// $MARKETDESK_TOKEN, token file, then $XDG_CONFIG_HOME/marketdesk/token.
// An empty result with a nil error means no credentials were found.
func LoadToken(src Source) (string, error) {
	if src.Token != "" {
		return strings.TrimSpace(src.Token), nil
	}

	if token := os.Getenv(TokenEnvVar); token != "" {
		return strings.TrimSpace(token), nil
	}

	if src.TokenFile != "" {
		data, err := os.ReadFile(src.TokenFile)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	path, ok := defaultTokenPath()
	if !ok {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(data)), nil
}

func defaultTokenPath() (string, bool) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "marketdesk", "token"), true
}

// Claims is what the workbench can learn from its own token without the
// signing secret.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token has an expiry that is before now.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// InspectToken parses a JWT without verifying its signature. The backend
// remains the authority; this only lets the console warn early.
func InspectToken(tokenString string) (*Claims, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	out := &Claims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
