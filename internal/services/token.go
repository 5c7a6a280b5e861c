package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tubeshelf/accounts/config"
	"github.com/tubeshelf/accounts/internal/store"
	"github.com/tubeshelf/accounts/types"
)

var (
	// ErrInvalidToken covers bad signatures, wrong algorithms, malformed
	// tokens and expiry. Expired tokens also match jwt.ErrTokenExpired.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked means the token verified but is no longer the one on record.
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims is the JWT payload for both token kinds. Profile fields are only
// set on access tokens.
type Claims struct {
	UserID   string `json:"_id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	FullName string `json:"fullName,omitempty"`
	jwt.RegisteredClaims
}

// SignToken signs claims with HS256.
func SignToken(claims Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies signature, algorithm and expiry.
func ParseToken(tokenString string, secret []byte) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// TokenStore is the persistence the token service needs.
type TokenStore interface {
	SetRefreshToken(ctx context.Context, id, token string) error
	SwapRefreshToken(ctx context.Context, id, current, next string) error
}

// TokenService issues, verifies and rotates access/refresh token pairs.
type TokenService struct {
	store         TokenStore
	accessSecret  []byte
	accessTTL     time.Duration
	refreshSecret []byte
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenService(tokenStore TokenStore, cfg config.AuthConfig) *TokenService {
	return &TokenService{
		store:         tokenStore,
		accessSecret:  []byte(cfg.AccessTokenSecret),
		accessTTL:     cfg.AccessTokenExpiry,
		refreshSecret: []byte(cfg.RefreshTokenSecret),
		refreshTTL:    cfg.RefreshTokenExpiry,
		now:           time.Now,
	}
}

// AccessTTL and RefreshTTL are the token lifetimes; session cookies use
// them as Max-Age.
func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) IssueAccessToken(user types.User) (string, error) {
	claims := s.baseClaims(user.ID, s.accessTTL)
	claims.Email = user.Email
	claims.Username = user.Username
	claims.FullName = user.FullName
	return SignToken(claims, s.accessSecret)
}

func (s *TokenService) IssueRefreshToken(user types.User) (string, error) {
	return SignToken(s.baseClaims(user.ID, s.refreshTTL), s.refreshSecret)
}

func (s *TokenService) VerifyAccessToken(token string) (Claims, error) {
	return ParseToken(token, s.accessSecret)
}

func (s *TokenService) VerifyRefreshToken(token string) (Claims, error) {
	return ParseToken(token, s.refreshSecret)
}

// IssuePair mints a new pair and stores the refresh token. Tokens are only
// returned once the store write has succeeded.
func (s *TokenService) IssuePair(ctx context.Context, user types.User) (types.TokenPair, error) {
	pair, err := s.mint(user)
	if err != nil {
		return types.TokenPair{}, err
	}
	if err := s.store.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return types.TokenPair{}, InternalError("Something went wrong while generating refresh and access token", err)
	}
	return pair, nil
}

// RotatePair replaces presented with a fresh pair. It fails with
// ErrTokenRevoked when presented is no longer the stored token.
func (s *TokenService) RotatePair(ctx context.Context, user types.User, presented string) (types.TokenPair, error) {
	pair, err := s.mint(user)
	if err != nil {
		return types.TokenPair{}, err
	}
	if err := s.store.SwapRefreshToken(ctx, user.ID, presented, pair.RefreshToken); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, ErrTokenRevoked
		}
		return types.TokenPair{}, InternalError("Something went wrong while generating refresh and access token", err)
	}
	return pair, nil
}

func (s *TokenService) mint(user types.User) (types.TokenPair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return types.TokenPair{}, InternalError("Something went wrong while generating refresh and access token", err)
	}
	refresh, err := s.IssueRefreshToken(user)
	if err != nil {
		return types.TokenPair{}, InternalError("Something went wrong while generating refresh and access token", err)
	}
	return types.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) baseClaims(userID string, ttl time.Duration) Claims {
	now := s.now()
	return Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}
