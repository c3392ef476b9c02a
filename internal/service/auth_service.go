package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-gate/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidTicket      = errors.New("invalid or expired ticket")
)

// TokenType distinguishes identity tickets from admin tokens.
type TokenType string

const (
	TokenTypeTicket TokenType = "ticket"
	TokenTypeAdmin  TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	LearnerID int64     `json:"learner_id,omitempty"` // Ticket only
}

// AuthService issues and validates identity tickets and admin tokens.
// A ticket only proves that its holder passed the identity check; it is
// exchanged for a session token and never accepted for submission.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// HashKey hashes an admin key with the configured bcrypt cost.
func (s *AuthService) HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckAdminKey compares key against ADMIN_KEY_HASH. Without a configured
// hash every key is rejected.
func (s *AuthService) CheckAdminKey(key string) error {
	if s.cfg.AdminKeyHash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminKeyHash), []byte(key)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueTicket creates a short-lived ticket for a verified learner.
func (s *AuthService) IssueTicket(learnerID int64) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(s.cfg.TicketTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.FormatInt(learnerID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		TokenType: TokenTypeTicket,
		LearnerID: learnerID,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// IssueAdminToken creates a JWT for the operator.
func (s *AuthService) IssueAdminToken() (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(s.cfg.AdminJWTExpiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		TokenType: TokenTypeAdmin,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ValidateToken parses and validates a JWT of the wanted type.
func (s *AuthService) ValidateToken(tokenStr string, want TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != want {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}

func (s *AuthService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
