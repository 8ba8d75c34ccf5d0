// Package auth validates bearer tokens and gates routes by role.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/platform/audit"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Roles recognised by the claims API.
const (
	RoleAdmin   = "admin"
	RoleBilling = "billing"
	RoleViewer  = "viewer"
)

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 validation, for development and tests.
	SigningKey []byte
	// Skipper bypasses authentication for matching requests.
	Skipper func(c echo.Context) bool
}

// PublicPaths bypass authentication.
var PublicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// SkipPublic is a Skipper for PublicPaths.
func SkipPublic(c echo.Context) bool {
	return PublicPaths[c.Request().URL.Path]
}

// JWTMiddleware validates the bearer token (HS256 with SigningKey, otherwise
// RS256 against JWKSURL) and stores subject and roles on the request.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var jwks *JWKSCache
	methods := []string{"HS256"}
	if len(cfg.SigningKey) == 0 {
		jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
		methods = []string{"RS256"}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			scheme, tokenStr, found := strings.Cut(c.Request().Header.Get("Authorization"), " ")
			if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed bearer token")
			}

			ctx := c.Request().Context()
			keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
			if jwks != nil {
				keyFunc = jwks.Keyfunc(ctx)
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			setIdentity(c, claims.Subject, claims.Roles)
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin
// "dev-user". Never enable outside development.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			setIdentity(c, "dev-user", []string{RoleAdmin})
			return next(c)
		}
	}
}

func setIdentity(c echo.Context, subject string, roles []string) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, subject)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	ctx = audit.WithActor(ctx, subject)
	c.SetRequest(c.Request().WithContext(ctx))
	c.Set("user_id", subject)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
