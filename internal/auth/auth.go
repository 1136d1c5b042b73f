package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xtrntr/backoffice/internal/accountid"
	"github.com/xtrntr/backoffice/internal/apperr"
	"github.com/xtrntr/backoffice/internal/db"
	"github.com/xtrntr/backoffice/internal/models"
	"github.com/xtrntr/backoffice/internal/validation"
	"go.uber.org/zap"
)

var (
	ErrMissingCredentials = apperr.NewValidation("Email and password are required")
	ErrDuplicateEmail     = apperr.NewDuplicate("User with this email already exists", nil)
	ErrInvalidCredentials = apperr.NewAuthentication("Invalid email or password")
	ErrInvalidToken       = apperr.NewAuthentication("Invalid token.")
	ErrInactiveUser       = apperr.NewAuthentication("User inactive or deleted.")
)

// Store is the identity storage the auth service needs
type Store interface {
	RegisterUser(ctx context.Context, nu models.NewUser, tokenKey string, ids *accountid.Generator) (*models.User, string, error)
	GetOrCreateToken(ctx context.Context, userID int64, key string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByToken(ctx context.Context, key string) (*models.User, error)
}

// TokenCache remembers which user owns a token key
type TokenCache interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, userID int64) error
}

// RegisterInput is the registration payload
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"max=50"`
	LastName  string `json:"last_name" validate:"max=50"`
}

// AuthService handles registration, credentials and session tokens
type AuthService struct {
	Store  Store
	Hasher PasswordHasher
	Policy *PasswordPolicy
	IDs    *accountid.Generator
	// Cache is optional
	Cache TokenCache

	validate  *validation.Validator
	log       *zap.Logger
	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new auth service. Nil hasher or policy fall
// back to bcrypt and the default policy.
func NewAuthService(store Store, hasher PasswordHasher, policy *PasswordPolicy, log *zap.Logger) *AuthService {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	if policy == nil {
		policy = DefaultPasswordPolicy(8)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		Store:    store,
		Hasher:   hasher,
		Policy:   policy,
		IDs:      accountid.New(),
		validate: validation.New(),
		log:      log,
	}
}

// NormalizeEmail trims surrounding whitespace and lower-cases the domain
// part, leaving the local part as typed
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// NewTokenKey returns a fresh 40-character hex token
func NewTokenKey() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Register creates a regular user and returns it with its token
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, string, error) {
	return s.createUser(ctx, in, false)
}

// CreateSuperuser creates an active staff superuser
func (s *AuthService) CreateSuperuser(ctx context.Context, in RegisterInput) (*models.User, string, error) {
	return s.createUser(ctx, in, true)
}

func (s *AuthService) createUser(ctx context.Context, in RegisterInput, superuser bool) (*models.User, string, error) {
	in.Email = strings.TrimSpace(in.Email)
	fieldErrs, err := s.validate.Struct(in)
	if err != nil {
		return nil, "", err
	}
	if validation.HasTag(fieldErrs, "required") {
		return nil, "", ErrMissingCredentials
	}
	if len(fieldErrs) > 0 {
		return nil, "", apperr.NewValidationList(validation.Messages(fieldErrs))
	}

	email := NormalizeEmail(in.Email)
	_, err = s.Store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil, "", ErrDuplicateEmail
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to check email: %w", err)
	}

	attrs := UserAttributes{Email: email, FirstName: in.FirstName, LastName: in.LastName}
	if err := s.Policy.Validate(in.Password, attrs); err != nil {
		return nil, "", err
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}
	key, err := NewTokenKey()
	if err != nil {
		return nil, "", err
	}

	user, token, err := s.Store.RegisterUser(ctx, models.NewUser{
		Email:        email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		IsStaff:      superuser,
		IsSuperuser:  superuser,
	}, key, s.IDs)
	if errors.Is(err, db.ErrDuplicateEmail) {
		// lost a race with a concurrent registration
		return nil, "", apperr.NewDuplicate(ErrDuplicateEmail.Messages[0], err)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to register user: %w", err)
	}

	s.log.Info("user registered",
		zap.Int64("user_id", user.ID),
		zap.String("account_id", user.AccountID),
		zap.Bool("superuser", superuser))
	return user, token, nil
}

// Authenticate verifies credentials. Every mismatch yields
// ErrInvalidCredentials so callers cannot tell which part was wrong.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := s.Store.GetUserByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		// burn the same hashing time as a real comparison
		s.Hasher.Verify(s.dummy(), password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !s.Hasher.Verify(user.PasswordHash, password) || !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and returns the user's existing or new token
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, "", err
	}
	token, err := s.IssueOrGetToken(ctx, user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// IssueOrGetToken returns the user's token, minting one only if none exists
func (s *AuthService) IssueOrGetToken(ctx context.Context, user *models.User) (string, error) {
	key, err := NewTokenKey()
	if err != nil {
		return "", err
	}
	token, err := s.Store.GetOrCreateToken(ctx, user.ID, key)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return token, nil
}

// ResolveToken maps a bearer token to its active owner
func (s *AuthService) ResolveToken(ctx context.Context, key string) (*models.User, error) {
	if key == "" {
		return nil, ErrInvalidToken
	}

	if s.Cache != nil {
		userID, ok, err := s.Cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("token cache lookup failed", zap.Error(err))
		} else if ok {
			user, err := s.Store.GetUserByID(ctx, userID)
			if err == nil {
				return checkActive(user)
			}
			if !errors.Is(err, db.ErrNotFound) {
				return nil, fmt.Errorf("failed to get user: %w", err)
			}
		}
	}

	user, err := s.Store.GetUserByToken(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	if s.Cache != nil {
		if err := s.Cache.Set(ctx, key, user.ID); err != nil {
			s.log.Warn("token cache store failed", zap.Error(err))
		}
	}
	return checkActive(user)
}

// Profile returns the current stored state of a user
func (s *AuthService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return user, nil
}

func checkActive(user *models.User) (*models.User, error) {
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return user, nil
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		key, _ := NewTokenKey()
		s.dummyHash, _ = s.Hasher.Hash(key)
	})
	return s.dummyHash
}
