package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/domain/repositories"
)

// Claims represents the claims in our JWT token
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues bearer tokens and verifies them against the live user
// table. Verification is read-only and collapses every failure into the
// uniform domain.ErrAuthenticationFailed; the concrete cause is only written
// to the audit log so callers cannot be used as an oracle.
type Service struct {
	secret   []byte
	tokenTTL time.Duration
	users    repositories.UserRepository
	logger   *zap.Logger
}

// NewService creates an auth service backed by the user repository
func NewService(secret []byte, tokenTTL time.Duration, users repositories.UserRepository, logger *zap.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &Service{
		secret:   secret,
		tokenTTL: tokenTTL,
		users:    users,
		logger:   logger,
	}
}

// IssueToken generates a signed JWT for the user
func (s *Service) IssueToken(user *entities.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.tokenTTL)
	claims := &Claims{
		UserID: user.ID,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify validates a bearer token and resolves it to a live, active user.
// A previously valid token for a now-deactivated account is rejected: the
// user table is re-checked on every call.
func (s *Service) Verify(ctx context.Context, tokenString string) (*entities.User, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		s.logger.Warn("Token verification failed", zap.Error(err))
		return nil, domain.ErrAuthenticationFailed
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		s.logger.Warn("Token user lookup failed",
			zap.String("userID", claims.UserID),
			zap.Error(err))
		return nil, domain.ErrAuthenticationFailed
	}

	if !user.IsActive {
		s.logger.Warn("Token rejected for inactive account",
			zap.String("userID", claims.UserID))
		return nil, domain.ErrAuthenticationFailed
	}

	return user, nil
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
