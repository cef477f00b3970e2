// Package auth establishes the identity behind a connection handshake.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionTokenKey is the cookie-session value holding the credential token.
const SessionTokenKey = "token"

// Authenticator resolves a credential token to a public identity or fails
// with domain.ErrAuthentication.
type Authenticator interface {
	Authenticate(token string) (domain.Identity, error)
}

// Claims carries the public identity alongside the registered claims.
// The subject is the user id.
type Claims struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"name,omitempty"`
	AvatarURL   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HMAC-signed tokens issued by the auth service.
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		})),
	}
}

var _ Authenticator = (*JWTAuthenticator)(nil)

func (a *JWTAuthenticator) Authenticate(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, fmt.Errorf("missing token: %w", domain.ErrAuthentication)
	}
	if len(a.secret) == 0 {
		return domain.Identity{}, fmt.Errorf("no verification secret: %w", domain.ErrAuthentication)
	}
	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Identity{}, fmt.Errorf("invalid token: %w", errors.Join(domain.ErrAuthentication, err))
	}
	ident, err := domain.NewIdentity(domain.UserID(claims.Subject), claims.Username, claims.DisplayName, claims.AvatarURL)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("token subject: %w", errors.Join(domain.ErrAuthentication, err))
	}
	return ident, nil
}

// Sign issues a token for ident. The server itself never calls it; it exists
// for tests and local tooling.
func (a *JWTAuthenticator) Sign(ident domain.Identity, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = string(ident.UserID)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username:         ident.Username,
		DisplayName:      ident.DisplayName,
		AvatarURL:        ident.AvatarURL,
		RegisteredClaims: claims,
	}).SignedString(a.secret)
}

// TokenFromRequest reads the credential from the Authorization header, the
// token query parameter, or the cookie session, in that order.
func TokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return ""
	}
	if token, ok := sessions.Default(c).Get(SessionTokenKey).(string); ok {
		return token
	}
	return ""
}
