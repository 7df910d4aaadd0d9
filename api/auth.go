package api

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"boardsync/domain"
)

// Auth validates incoming JWT tokens and resolves the opaque owner
// identity from their claims.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte
}

// NewAuth creates a new Auth instance.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	if os.Getenv("AUTH_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			panic("TEST_JWT_SECRET must be set when AUTH_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}
	return a
}

// UserFromAuthHeader extracts the signed-in owner from the Authorization
// header.
func (a *Auth) UserFromAuthHeader(h string) (domain.User, error) {
	if h == "" {
		return domain.User{}, errors.New("missing authorization header")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return domain.User{}, errors.New("bad auth header")
	}

	tokenStr := parts[1]
	if strings.Count(tokenStr, ".") != 2 {
		return domain.User{}, errors.New("bad auth header")
	}

	if a.TestMode {
		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
		if err != nil {
			return domain.User{}, err
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return domain.User{}, errors.New("invalid claims")
		}
		return userFromClaims(claims)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	token, err := parser.Parse(tokenStr, a.JWKS.Keyfunc)
	if err != nil {
		return domain.User{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.User{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return domain.User{}, errors.New("token not valid yet")
	}
	if !claims.VerifyAudience(a.Audience, false) {
		return domain.User{}, errors.New("invalid audience")
	}
	if !claims.VerifyIssuer(a.Issuer, false) {
		return domain.User{}, errors.New("invalid issuer")
	}
	return userFromClaims(claims)
}

func userFromClaims(claims jwt.MapClaims) (domain.User, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.User{}, errors.New("missing sub")
	}
	user := domain.User{ID: sub}
	if name, ok := claims["name"].(string); ok {
		user.DisplayName = name
	}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if picture, ok := claims["picture"].(string); ok {
		user.PhotoURL = picture
	}
	return user, nil
}
