package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/util"
)

const (
	// ActorKey holds the authenticated admin's actor id in the gin context.
	ActorKey = "actor_id"

	ActorIDHeader = "X-Actor-ID"
	APIKeyHeader  = "X-API-Key"
)

var (
	errNoCredentials = errors.New("no credentials")
	errKeyRejected   = errors.New("api key rejected")
)

// PrivilegeChecker is what AdminAuth needs from the privilege service.
type PrivilegeChecker interface {
	IsPrivileged(ctx context.Context, actorID string) (bool, error)
	VerifyAPIKey(ctx context.Context, actorID, key string) (bool, error)
}

// FailureRecorder is told about every rejected admin request. actor is
// empty when the caller could not be identified.
type FailureRecorder func(c *gin.Context, actor, reason string)

// AuthOption configures AdminAuth.
type AuthOption func(*authOptions)

type authOptions struct {
	onFailure FailureRecorder
}

// WithFailureRecorder reports authentication and authorization failures.
func WithFailureRecorder(fn FailureRecorder) AuthOption {
	return func(o *authOptions) { o.onFailure = fn }
}

// AdminAuth authenticates the caller with a bearer JWT (HS256, subject is
// the actor id) or an X-Actor-ID/X-API-Key pair, then requires the actor to
// be privileged. An empty secret disables bearer tokens.
func AdminAuth(secret string, priv PrivilegeChecker, opts ...AuthOption) gin.HandlerFunc {
	var o authOptions
	for _, opt := range opts {
		opt(&o)
	}
	fail := func(c *gin.Context, actor, reason string) {
		if o.onFailure != nil {
			o.onFailure(c, actor, reason)
		}
	}

	return func(c *gin.Context) {
		actor, err := authenticate(c, []byte(secret), priv)
		if err != nil {
			msg := "invalid credentials"
			if errors.Is(err, errNoCredentials) {
				msg = "authorization required"
			} else {
				fail(c, strings.TrimSpace(c.GetHeader(ActorIDHeader)), msg)
			}
			GetRequestLogger(c).WithError(err).Debug("admin authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		ok, err := priv.IsPrivileged(c.Request.Context(), actor)
		if err != nil {
			GetRequestLogger(c).WithError(err).Error("privilege lookup failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authorization unavailable"})
			return
		}
		if !ok {
			GetRequestLogger(c).WithFields(logrus.Fields{"actor": util.SanitizeForLog(actor)}).
				Warn("unprivileged actor denied")
			fail(c, actor, "admin privileges required")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			return
		}

		c.Set(ActorKey, actor)
		c.Next()
	}
}

func authenticate(c *gin.Context, secret []byte, priv PrivilegeChecker) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || len(secret) == 0 {
			return "", errors.New("unsupported authorization scheme")
		}
		return ParseActorToken(secret, strings.TrimSpace(token))
	}

	actor := strings.TrimSpace(c.GetHeader(ActorIDHeader))
	key := c.GetHeader(APIKeyHeader)
	if actor == "" || key == "" {
		return "", errNoCredentials
	}
	ok, err := priv.VerifyAPIKey(c.Request.Context(), actor, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errKeyRejected
	}
	return actor, nil
}

// SignActorToken issues an HS256 token whose subject is actor.
func SignActorToken(secret []byte, actor string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   actor,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "warden",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseActorToken validates tokenStr and returns its subject.
func ParseActorToken(secret []byte, tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// GetActor returns the authenticated actor id, or "" outside admin routes.
func GetActor(c *gin.Context) string {
	return c.GetString(ActorKey)
}
