// Package services provides technical concerns shared by the admin surface, such as access tokens
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/sms-dispatcher/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

const accessTokenType = "access"

// TokenService issues and validates admin access tokens
type TokenService interface {
	GenerateAdminToken(adminID uint) (token string, expiresAt time.Time, err error)
	ValidateAdminToken(ctx context.Context, token string) (*AdminTokenClaims, error)
	RevokeAdminToken(ctx context.Context, token string) error
}

// AdminTokenClaims represents claims for admin JWTs
type AdminTokenClaims struct {
	AdminID   uint      `json:"admin_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
	TokenID   string    `json:"jti"`
}

type adminJWTClaims struct {
	AdminID   uint   `json:"admin_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenServiceImpl implements TokenService with HS256 tokens.
// Revoked token ids live in redis when a client is configured, otherwise in process memory.
type TokenServiceImpl struct {
	accessTokenTTL time.Duration
	secretKey      []byte
	issuer         string
	audience       string

	redis       *redis.Client
	redisPrefix string

	mu      sync.RWMutex // guards revoked
	revoked map[string]time.Time
}

// NewTokenService creates a new token service; rc may be nil
func NewTokenService(accessTokenTTL time.Duration, issuer, audience, secretKey string, rc *redis.Client, redisPrefix string) (TokenService, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	if accessTokenTTL <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive")
	}
	return &TokenServiceImpl{
		accessTokenTTL: accessTokenTTL,
		secretKey:      []byte(secretKey),
		issuer:         issuer,
		audience:       audience,
		redis:          rc,
		redisPrefix:    redisPrefix,
		revoked:        make(map[string]time.Time),
	}, nil
}

// GenerateAdminToken signs an access token for adminID
func (s *TokenServiceImpl) GenerateAdminToken(adminID uint) (string, time.Time, error) {
	now := utils.UTCNow()
	tokenID, err := generateTokenID()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(s.accessTokenTTL)

	claims := adminJWTClaims{
		AdminID:   adminID,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateAdminToken validates an admin JWT and returns admin-specific claims
func (s *TokenServiceImpl) ValidateAdminToken(ctx context.Context, token string) (*AdminTokenClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return &AdminTokenClaims{
		AdminID:   claims.AdminID,
		TokenType: claims.TokenType,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// RevokeAdminToken blacklists the token id until the token would have expired anyway
func (s *TokenServiceImpl) RevokeAdminToken(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if s.redis != nil {
		if err := s.redis.Set(ctx, s.revokedKey(claims.ID), "1", ttl).Err(); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}

func (s *TokenServiceImpl) parse(token string) (*adminJWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	var claims adminJWTClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid || claims.TokenType != accessTokenType || claims.AdminID == 0 || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

func (s *TokenServiceImpl) isRevoked(ctx context.Context, tokenID string) (bool, error) {
	if s.redis != nil {
		n, err := s.redis.Exists(ctx, s.revokedKey(tokenID)).Result()
		if err != nil {
			return false, fmt.Errorf("failed to check token revocation: %w", err)
		}
		return n > 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if utils.IsExpired(exp) {
		delete(s.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

func (s *TokenServiceImpl) revokedKey(tokenID string) string {
	return s.redisPrefix + "revoked_token:" + tokenID
}

// generateTokenID generates a unique token ID
func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bytes), nil
}
