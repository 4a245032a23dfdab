// Package middleware holds the Fiber middleware shared by all routes:
// authentication, request context, logging, metrics, tracing and rate limits.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"betelconnect/internal/cache"
	"betelconnect/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// TokenIssuer is the required "iss" claim.
	TokenIssuer = "betelconnect-api"
	// TokenAudience is the required "aud" claim.
	TokenAudience = "betelconnect-client"

	// LocalUserID is the fiber.Ctx local holding the authenticated user id.
	LocalUserID = "userID"
	// LocalRole is the fiber.Ctx local holding the authenticated role.
	LocalRole = "role"
)

// Claims are the JWT claims the service accepts.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID uint
	Role   string
}

// IssueToken signs an HS256 token for userID. Sign-up and login live outside
// this service; seeders, probes and tests use this to mint tokens.
func IssueToken(secret string, userID uint, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns the caller it names.
func ParseToken(secret, tokenString string) (Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid or expired token")
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil || userID == 0 {
		return Identity{}, errors.New("invalid user id in token")
	}
	return Identity{UserID: uint(userID), Role: claims.Role}, nil
}

// Authenticator resolves the caller from a bearer JWT or, on websocket
// routes, from a single-use ticket.
type Authenticator struct {
	secret string
	rdb    *redis.Client
}

// NewAuthenticator creates an Authenticator. rdb may be nil, which disables tickets.
func NewAuthenticator(secret string, rdb *redis.Client) *Authenticator {
	return &Authenticator{secret: secret, rdb: rdb}
}

// Required rejects requests without a valid identity with 401.
func (a *Authenticator) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isWSPath := strings.HasPrefix(c.Path(), "/api/ws") && c.Path() != "/api/ws/ticket"

		if isWSPath {
			userID, err := cache.ConsumeWSTicket(c.UserContext(), a.rdb, c.Query("ticket"))
			if err != nil {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
			setIdentity(c, Identity{UserID: userID})
			return c.Next()
		}

		tokenString, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		id, err := ParseToken(a.secret, tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError(err.Error()))
		}
		setIdentity(c, id)
		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

func setIdentity(c *fiber.Ctx, id Identity) {
	c.Locals(LocalUserID, id.UserID)
	c.Locals(LocalRole, id.Role)
	ctx := context.WithValue(c.UserContext(), UserIDKey, id.UserID)
	c.SetUserContext(ctx)
}

// UserID returns the authenticated user id stored by Required.
func UserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(LocalUserID).(uint)
	return id, ok && id != 0
}

// Role returns the authenticated role stored by Required.
func Role(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalRole).(string)
	return role
}
