package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/resourceswap/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

const (
	maxUsername  = 50
	maxPassword  = 72 // bcrypt limit
	accountClaim = "account"
)

// UserStore is implemented by the Postgres and SQLite stores
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// AuthService handles user authentication
type AuthService struct {
	Store    UserStore
	secret   []byte
	ttl      time.Duration
	reserved map[string]bool
	now      func() time.Time
}

// NewAuthService creates a new auth service signing tokens with secret.
// Reserved names cannot be registered.
func NewAuthService(store UserStore, secret []byte, ttl time.Duration, reserved ...string) *AuthService {
	s := &AuthService{
		Store:    store,
		secret:   secret,
		ttl:      ttl,
		reserved: make(map[string]bool, len(reserved)),
		now:      time.Now,
	}
	for _, name := range reserved {
		s.reserved[name] = true
	}
	return s
}

// Register creates a new user with hashed password. The username becomes the account.
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password cannot be empty", ErrInvalidInput)
	}
	if len(username) > maxUsername {
		return nil, fmt.Errorf("%w: username too long (max %d characters)", ErrInvalidInput, maxUsername)
	}
	if len(password) > maxPassword {
		return nil, fmt.Errorf("%w: password too long (max %d bytes)", ErrInvalidInput, maxPassword)
	}
	if s.reserved[username] {
		return nil, fmt.Errorf("%w: username %q is reserved", ErrInvalidInput, username)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.Store.CreateUser(ctx, username, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT carrying the account
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        fmt.Sprint(user.ID),
		accountClaim: user.Username,
		"iat":        now.Unix(),
		"exp":        now.Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

// AccountFromToken validates tokenString and returns the account it was issued for
func (s *AuthService) AccountFromToken(tokenString string) (models.Account, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if _, ok := claims["exp"]; !ok {
		return "", fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}
	account, ok := claims[accountClaim].(string)
	if !ok || account == "" {
		return "", fmt.Errorf("%w: missing account claim", ErrInvalidToken)
	}
	return models.Account(account), nil
}
