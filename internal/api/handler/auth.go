package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"helpdesk/backend/internal/lifecycle"
	"helpdesk/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	actorKey    = "actor"
	tokenIssuer = "helpdesk-service"
)

// Claims identify an agent. Subject is the user id.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for a user. Tokens normally come from the
// identity provider; this serves the admin CLI and tests.
func SignToken(secret []byte, userID, role, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseActor validates a token and turns its claims into an actor.
func (h *Handler) parseActor(tokenString string) (lifecycle.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return lifecycle.Actor{}, err
	}
	if claims.Subject == "" {
		return lifecycle.Actor{}, errors.New("token has no subject")
	}
	role := claims.Role
	if role != models.RoleAdmin {
		role = models.RoleAgent
	}
	return lifecycle.Actor{UserID: claims.Subject, Name: claims.Name, Role: role}, nil
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter that browsers use for EventSource and WebSocket connections.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if ok {
			return token
		}
		return ""
	}
	return c.Query("token")
}

// RequireAuth rejects requests without a valid agent token.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}
		actor, err := h.parseActor(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireAdmin lets only administrators through. It runs after RequireAuth.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := currentActor(c)
		if !ok || actor.Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			return
		}
		c.Next()
	}
}

// currentActor returns the authenticated actor. The zero Actor is the system, so
// callers must check ok.
func currentActor(c *gin.Context) (lifecycle.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return lifecycle.Actor{}, false
	}
	a, ok := v.(lifecycle.Actor)
	return a, ok && !a.IsSystem()
}

// requireActor writes a 401 when the request carries no actor.
func requireActor(c *gin.Context) (lifecycle.Actor, bool) {
	a, ok := currentActor(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
	}
	return a, ok
}
