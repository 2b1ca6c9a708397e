// ABOUTME: Seller token issuing and checking for the fake backend
// ABOUTME: HS256 tokens carry a fixed issuer and must expire; websocket upgrades may pass ?token=

package fakebackend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/marketdesk/internal/auth"
)

// TokenIssuer is the iss claim on every token the fake backend signs.
const TokenIssuer = "marketdesk-fake-backend"

// SellerAuth signs and checks seller bearer tokens with one shared secret.
type SellerAuth struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

// NewSellerAuth creates a SellerAuth for secret.
func NewSellerAuth(secret []byte) *SellerAuth {
	a := &SellerAuth{secret: secret, now: time.Now}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a
}

// Issue signs a token for seller that is valid for ttl.
func (a *SellerAuth) Issue(seller string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   seller,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Check returns the seller a token was issued to. Failures wrap
// auth.ErrExpiredToken, auth.ErrMissingClaim or auth.ErrInvalidToken.
func (a *SellerAuth) Check(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", auth.ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	case claims.Subject == "":
		return "", fmt.Errorf("%w: sub", auth.ErrMissingClaim)
	}
	return claims.Subject, nil
}

type sellerKey struct{}

// sellerFrom returns the authenticated seller, or "" when auth is off.
func sellerFrom(ctx context.Context) string {
	s, _ := ctx.Value(sellerKey{}).(string)
	return s
}

// Require wraps next so it only runs for requests with a valid token.
func (a *SellerAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, problem := bearerToken(r)
		if problem != "" {
			writeError(w, http.StatusUnauthorized, problem)
			return
		}
		seller, err := a.Check(token)
		if err != nil {
			problem = "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				problem = "token expired"
			}
			writeError(w, http.StatusUnauthorized, problem)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sellerKey{}, seller)))
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a websocket upgrade, so upgrades may carry the token as ?token= instead.
func bearerToken(r *http.Request) (token, problem string) {
	header := r.Header.Get("Authorization")
	if header == "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if q := r.URL.Query().Get("token"); q != "" {
			return q, ""
		}
	}
	switch scheme, rest, _ := strings.Cut(header, " "); {
	case header == "":
		return "", "missing authorization header"
	case scheme != "Bearer":
		return "", "invalid authorization header format"
	case strings.TrimSpace(rest) == "":
		return "", "empty token"
	default:
		return strings.TrimSpace(rest), ""
	}
}
