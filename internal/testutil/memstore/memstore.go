// Package memstore is an in-memory stand-in for the postgres store, with
// the same uniqueness and ownership rules, for service and handler tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/backoffice/internal/accountid"
	"github.com/xtrntr/backoffice/internal/db"
	"github.com/xtrntr/backoffice/internal/models"
)

// Store keeps every table in maps guarded by one mutex
type Store struct {
	mu           sync.Mutex
	users        map[int64]*models.User
	tokens       map[string]int64 // key -> user id
	tickets      []models.Ticket
	transactions []models.Transaction
	nextID       int64
	now          func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:  make(map[int64]*models.User),
		tokens: make(map[string]int64),
		now:    time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// RegisterUser mirrors db.DB.RegisterUser; the store mutex plays the role
// of the advisory lock.
func (s *Store) RegisterUser(ctx context.Context, nu models.NewUser, tokenKey string, ids *accountid.Generator) (*models.User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == nu.Email {
			return nil, "", fmt.Errorf("failed to create user: %w", db.ErrDuplicateEmail)
		}
	}

	accountID, err := ids.GenerateUnique(ctx, func(_ context.Context, candidate string) (bool, error) {
		for _, u := range s.users {
			if u.AccountID == candidate {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, "", err
	}

	user := &models.User{
		ID:           s.id(),
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		AccountID:    accountID,
		FreeMargin:   decimal.Zero,
		UserFunds:    decimal.Zero,
		Balance:      decimal.Zero,
		Equity:       decimal.Zero,
		MarginLevel:  decimal.Zero,
		IsActive:     true,
		IsStaff:      nu.IsStaff,
		IsSuperuser:  nu.IsSuperuser,
		DateJoined:   s.now(),
	}
	s.users[user.ID] = user
	return copyUser(user), s.getOrCreateToken(user.ID, tokenKey), nil
}

func (s *Store) getOrCreateToken(userID int64, key string) string {
	for k, owner := range s.tokens {
		if owner == userID {
			return k
		}
	}
	s.tokens[key] = userID
	return key
}

// GetOrCreateToken returns the user's token, storing key if none exists
func (s *Store) GetOrCreateToken(_ context.Context, userID int64, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return "", fmt.Errorf("failed to create token: %w", db.ErrNotFound)
	}
	return s.getOrCreateToken(userID, key), nil
}

// GetUserByEmail looks a user up by exact email
func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, fmt.Errorf("failed to get user: %w", db.ErrNotFound)
}

// GetUserByID looks a user up by id
func (s *Store) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("failed to get user: %w", db.ErrNotFound)
	}
	return copyUser(u), nil
}

// GetUserByToken looks a user up by token key
func (s *Store) GetUserByToken(_ context.Context, key string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[key]
	if !ok {
		return nil, fmt.Errorf("failed to get user by token: %w", db.ErrNotFound)
	}
	return copyUser(s.users[id]), nil
}

// UpdateUser applies fn to the stored user, standing in for back-office edits
func (s *Store) UpdateUser(id int64, fn func(u *models.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		fn(u)
	}
}

// TokenCount returns the number of tokens owned by a user
func (s *Store) TokenCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, owner := range s.tokens {
		if owner == userID {
			n++
		}
	}
	return n
}

// CreateTicket stores a ticket for an existing user
func (s *Store) CreateTicket(_ context.Context, t *models.Ticket) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[t.UserID]; !ok {
		return nil, fmt.Errorf("failed to create ticket: %w", db.ErrNotFound)
	}
	stored := *t
	stored.ID = s.id()
	s.tickets = append(s.tickets, stored)
	return &stored, nil
}

// GetUserTickets returns a user's tickets in id order
func (s *Store) GetUserTickets(_ context.Context, userID int64) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Ticket{}
	for _, t := range s.tickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// CreateTransaction stores a transaction, enforcing reference uniqueness
func (s *Store) CreateTransaction(_ context.Context, t *models.Transaction) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[t.UserID]; !ok {
		return nil, fmt.Errorf("failed to create transaction: %w", db.ErrNotFound)
	}
	for _, existing := range s.transactions {
		if existing.Reference == t.Reference {
			return nil, fmt.Errorf("failed to create transaction: %w", db.ErrDuplicateReference)
		}
	}
	stored := *t
	stored.ID = s.id()
	stored.Amount = stored.Amount.Round(2)
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	s.transactions = append(s.transactions, stored)
	return &stored, nil
}

// GetUserTransactions returns a user's transactions, newest first
func (s *Store) GetUserTransactions(_ context.Context, userID int64) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Transaction{}
	for _, t := range s.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}
