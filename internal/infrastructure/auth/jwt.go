package auth

import (
	"errors"
	"time"

	"github.com/erp/ledger/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrMissingTenantID  = errors.New("missing or malformed tenant_id in claims")
	ErrMissingUserID    = errors.New("missing or malformed user_id in claims")
)

const tokenTypeAccess = "access"

// Claims are the access token claims issued by the identity service
type Claims struct {
	jwt.RegisteredClaims
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type"`
}

// Identity is the authenticated caller of a ledger request
type Identity struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Username string
}

// JWTValidator verifies HS256 access tokens. Tokens are issued elsewhere;
// Sign exists for tooling and tests.
type JWTValidator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTValidator creates a validator from the jwt config section
func NewJWTValidator(cfg config.JWTConfig) *JWTValidator {
	return &JWTValidator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// Validate parses tokenString and returns the caller identity
func (v *JWTValidator) Validate(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, ErrTokenNotYetValid
	case err != nil:
		return nil, ErrInvalidToken
	}

	if claims.TokenType != "" && claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidTokenType
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return nil, ErrMissingTenantID
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil || userID == uuid.Nil {
		return nil, ErrMissingUserID
	}

	return &Identity{TenantID: tenantID, UserID: userID, Username: claims.Username}, nil
}

// Sign issues an access token for id valid for ttl
func (v *JWTValidator) Sign(id Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    v.issuer,
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID:  id.TenantID.String(),
		UserID:    id.UserID.String(),
		Username:  id.Username,
		TokenType: tokenTypeAccess,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
