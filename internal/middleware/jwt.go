package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Roles carried in tokens.
const (
	RoleAdmin   = "admin"
	RoleFounder = "founder"
	RoleUser    = "user"
)

// Claims are the JWT claims the API understands. FounderID is set for
// founder tokens and names the founder the bearer may act as.
type Claims struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	FounderID string `json:"founder_id,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs claims with HS256 and the given lifetime.
func IssueToken(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// JWT authenticates the bearer token and stores user_id, role and
// founder_id in the echo context.
func JWT(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization header"})
			}
			claims, err := ParseToken(secret, tokenStr)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			c.Set("user_id", claims.UserID)
			c.Set("role", claims.Role)
			c.Set("founder_id", claims.FounderID)
			return next(c)
		}
	}
}

// SelfOrAdmin lets admins through and otherwise requires the founder in
// the path parameter to be the one named by the token.
func SelfOrAdmin(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if role, _ := c.Get("role").(string); role == RoleAdmin {
				return next(c)
			}
			founderID, _ := c.Get("founder_id").(string)
			if founderID == "" || founderID != c.Param(param) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "you may only act for your own founder account"})
			}
			return next(c)
		}
	}
}
