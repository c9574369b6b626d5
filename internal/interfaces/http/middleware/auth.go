package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/erp/ledger/internal/infrastructure/auth"
	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Auth context keys and headers
const (
	IdentityKey    = "identity"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
	TenantIDHeader = "X-Tenant-ID"
	UserIDHeader   = "X-User-ID"
)

// TokenValidator turns a bearer token into a caller identity
type TokenValidator interface {
	Validate(tokenString string) (*auth.Identity, error)
}

// AuthConfig holds configuration for the auth middleware
type AuthConfig struct {
	Validator TokenValidator
	// AllowHeaderAuth accepts X-Tenant-ID / X-User-ID when no bearer token is sent
	AllowHeaderAuth bool
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	Logger    *zap.Logger
}

// Auth authenticates the caller and stores its identity in the gin and
// request contexts.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		identity, err := authenticate(c, cfg)
		if err != nil {
			cfg.Logger.Warn("Authentication failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", GetRequestID(c)),
			)
			code, message := authErrorCode(err)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
			return
		}

		c.Set(IdentityKey, identity)
		userID := ""
		if identity.UserID != uuid.Nil {
			userID = identity.UserID.String()
		}
		ctx := logger.WithIdentity(c.Request.Context(), identity.TenantID.String(), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func authenticate(c *gin.Context, cfg AuthConfig) (*auth.Identity, error) {
	header := c.GetHeader(AuthHeaderKey)
	if header == "" {
		if cfg.AllowHeaderAuth {
			return identityFromHeaders(c)
		}
		return nil, errMissingCredentials
	}
	if !strings.HasPrefix(header, BearerPrefix) {
		return nil, auth.ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	if token == "" || cfg.Validator == nil {
		return nil, auth.ErrInvalidToken
	}
	return cfg.Validator.Validate(token)
}

var (
	errMissingCredentials = errors.New("missing authorization header")
	errBadTenantHeader    = errors.New("missing or malformed X-Tenant-ID header")
	errBadUserHeader      = errors.New("malformed X-User-ID header")
)

// identityFromHeaders is the development fallback. The user is optional.
func identityFromHeaders(c *gin.Context) (*auth.Identity, error) {
	tenantID, err := uuid.Parse(c.GetHeader(TenantIDHeader))
	if err != nil || tenantID == uuid.Nil {
		return nil, errBadTenantHeader
	}
	identity := &auth.Identity{TenantID: tenantID}
	if raw := c.GetHeader(UserIDHeader); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return nil, errBadUserHeader
		}
		identity.UserID = userID
	}
	return identity, nil
}

func authErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidTokenType),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingTenantID),
		errors.Is(err, auth.ErrMissingUserID):
		return dto.ErrCodeTokenInvalid, "Invalid token"
	case errors.Is(err, errBadTenantHeader), errors.Is(err, errBadUserHeader):
		return dto.ErrCodeUnauthorized, err.Error()
	default:
		return dto.ErrCodeUnauthorized, "Authentication required"
	}
}

// GetIdentity returns the identity stored by Auth, or nil
func GetIdentity(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if identity, ok := v.(*auth.Identity); ok {
			return identity
		}
	}
	return nil
}
