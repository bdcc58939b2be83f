package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller. Tokens are issued by the external
// identity provider; this service only verifies them.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Claims are the token claims this service reads.
type Claims struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an Authenticator. An empty issuer accepts any issuer.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates a token.
func (a *Authenticator) Verify(token string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, errInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", errInvalidToken)
	}
	return &Identity{UserID: claims.Subject, DisplayName: claims.Name, AvatarURL: claims.Avatar}, nil
}

// Issue signs a token for userID. Used by tests and local tooling.
func (a *Authenticator) Issue(userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

const identityKey = "identity"

// AuthMiddleware requires a valid bearer token, taken from the Authorization
// header or, for WebSocket upgrades, the token query parameter.
func AuthMiddleware(auth *Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return errUnauthorized(c, "missing bearer token")
		}

		id, err := auth.Verify(token)
		if err != nil {
			return errUnauthorized(c, "invalid or expired token")
		}
		c.Locals(identityKey, id)
		c.SetUserContext(WithLogger(c.UserContext(), LoggerFromCtx(c.UserContext()).With("user_id", id.UserID)))
		return c.Next()
	}
}

// IdentityFrom returns the caller set by AuthMiddleware, or nil.
func IdentityFrom(c *fiber.Ctx) *Identity {
	id, _ := c.Locals(identityKey).(*Identity)
	return id
}
