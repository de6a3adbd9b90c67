package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/loftdrive/loft/internal/config"
)

const maxPasswordLength = 72 // bcrypt limit

// userStore abstracts the persistence layer.
type userStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)
	FindUserByName(ctx context.Context, username string) (User, error)
	DeleteUser(ctx context.Context, username string) error
}

// statsLedger is the slice of the quota ledger the account lifecycle needs:
// a stats row is created with the account and removed with it.
type statsLedger interface {
	EnsureUserStats(ctx context.Context, user string) error
	DropUserStats(ctx context.Context, user string) error
}

// Service encapsulates authentication and account lifecycle use cases.
type Service struct {
	store   userStore
	stats   statsLedger
	cfg     config.AuthConfig
	log     *zap.Logger
	nowFunc func() time.Time
	parser  *jwt.Parser
}

// NewService creates a Service with dependencies.
func NewService(store userStore, stats statsLedger, cfg config.AuthConfig, log *zap.Logger) *Service {
	return &Service{
		store:   store,
		stats:   stats,
		cfg:     cfg,
		log:     log,
		nowFunc: time.Now,
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})),
	}
}

// UserClaims describes the validated identity extracted from an access token.
type UserClaims struct {
	Username  string
	IsAdmin   bool
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Register creates a new account along with its quota ledger row, then issues
// a token.
func (s *Service) Register(ctx context.Context, username, password string) (User, Token, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if err := validateCredentials(username, password); err != nil {
		return User{}, Token{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return User{}, Token{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, string(hash))
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return User{}, Token{}, ErrUsernameTaken
		}
		return User{}, Token{}, fmt.Errorf("create user: %w", err)
	}

	if err := s.stats.EnsureUserStats(ctx, username); err != nil {
		s.log.Error("stats row creation failed for new user",
			zap.String("user", username), zap.Error(err))
		return User{}, Token{}, fmt.Errorf("create user stats: %w", err)
	}

	token, err := s.issueToken(user)
	if err != nil {
		return User{}, Token{}, err
	}
	return user.SafeUser(), token, nil
}

// Login authenticates credentials and issues a fresh token.
func (s *Service) Login(ctx context.Context, username, password string) (User, Token, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if err := validateCredentials(username, password); err != nil {
		return User{}, Token{}, ErrInvalidCredentials
	}

	user, err := s.store.FindUserByName(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, Token{}, ErrInvalidCredentials
		}
		return User{}, Token{}, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, Token{}, ErrInvalidCredentials
	}

	token, err := s.issueToken(user)
	if err != nil {
		return User{}, Token{}, err
	}
	return user.SafeUser(), token, nil
}

// DeleteAccount removes the account row and its quota ledger row. Buckets and
// files are left to an explicit bucket removal beforehand.
func (s *Service) DeleteAccount(ctx context.Context, username string) error {
	if err := s.store.DeleteUser(ctx, username); err != nil {
		return err
	}
	if err := s.stats.DropUserStats(ctx, username); err != nil {
		return fmt.Errorf("delete user stats: %w", err)
	}
	return nil
}

// ValidateAccessToken verifies the token signature and extracts user claims.
func (s *Service) ValidateAccessToken(tokenString string) (UserClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return UserClaims{}, ErrUnauthorized
	}

	parsed, err := s.parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.TokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return UserClaims{}, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return UserClaims{}, ErrUnauthorized
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return UserClaims{}, ErrUnauthorized
	}

	isAdmin, _ := claims["is_admin"].(bool)

	expFloat, okExp := claims["exp"].(float64)
	if !okExp {
		return UserClaims{}, ErrUnauthorized
	}
	exp := time.Unix(int64(expFloat), 0)

	iat := time.Time{}
	if iatFloat, ok := claims["iat"].(float64); ok {
		iat = time.Unix(int64(iatFloat), 0)
	}

	if exp.Before(s.nowFunc()) {
		return UserClaims{}, ErrUnauthorized
	}

	return UserClaims{
		Username:  sub,
		IsAdmin:   isAdmin,
		ExpiresAt: exp,
		IssuedAt:  iat,
	}, nil
}

func (s *Service) issueToken(user User) (Token, error) {
	now := s.nowFunc()
	expiresAt := now.Add(s.cfg.TokenTTL)

	claims := jwt.MapClaims{
		"sub":      user.Username,
		"iss":      "loft",
		"iat":      now.Unix(),
		"exp":      expiresAt.Unix(),
		"is_admin": user.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.TokenSecret))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	return Token{AccessToken: signed, ExpiresAt: expiresAt}, nil
}

func validateCredentials(username, password string) error {
	if username == "" || strings.ContainsAny(username, " /\\") {
		return ErrInvalidCredentials
	}
	if len(password) < 8 || len(password) > maxPasswordLength {
		return ErrInvalidCredentials
	}
	return nil
}
