// Package ledger records deposit and withdrawal requests. It never moves
// balances; settlement happens elsewhere and only updates status.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/backoffice/internal/apperr"
	"github.com/xtrntr/backoffice/internal/db"
	"github.com/xtrntr/backoffice/internal/models"
	"go.uber.org/zap"
)

const (
	// ReferenceLength is the length of every transaction reference
	ReferenceLength = 12
	// DefaultReferenceAttempts bounds inserts when references collide
	DefaultReferenceAttempts = 3

	referenceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// EventCreated is published after a transaction is stored
	EventCreated = "transaction.created"
)

var (
	ErrMissingField  = apperr.NewValidation("transaction_type and amount are required")
	ErrInvalidType   = apperr.NewValidation("Invalid transaction type")
	ErrInvalidAmount = apperr.NewValidation("Amount must be a number")
)

// amounts are NUMERIC(12,2)
var maxAmount = decimal.New(1, 10)

// Store persists transactions
type Store interface {
	CreateTransaction(ctx context.Context, t *models.Transaction) (*models.Transaction, error)
	GetUserTransactions(ctx context.Context, userID int64) ([]models.Transaction, error)
}

// Event is what subscribers receive about a user's transactions
type Event struct {
	Type        string
	Transaction *models.Transaction
}

// Notifier delivers events to a user's live subscribers. Publish must
// not block on the network; it runs inside the create request.
type Notifier interface {
	Publish(userID int64, event Event)
}

// CreateInput is the transaction payload. Amount stays a string so any
// numeric spelling the client sent is parsed exactly once, here.
type CreateInput struct {
	TransactionType string
	Amount          string
	Description     string
}

// Service creates and lists transactions
type Service struct {
	store Store
	log   *zap.Logger

	// Notifier is optional
	Notifier Notifier
	// ReferenceAttempts <= 0 means DefaultReferenceAttempts
	ReferenceAttempts int
	// NewReference defaults to the crypto/rand generator
	NewReference func() (string, error)
}

// NewService creates a ledger service
func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:             store,
		log:               log,
		ReferenceAttempts: DefaultReferenceAttempts,
		NewReference:      NewReference,
	}
}

// NewReference returns a random reference drawn from [a-zA-Z0-9]
func NewReference() (string, error) {
	var sb strings.Builder
	sb.Grow(ReferenceLength)
	n := big.NewInt(int64(len(referenceAlphabet)))
	for i := 0; i < ReferenceLength; i++ {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("failed to generate reference: %w", err)
		}
		sb.WriteByte(referenceAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// ParseAmount parses a decimal amount rounded to cents. Sign is not
// checked; the column holds at most 10 integer digits.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	amount = amount.Round(2)
	if amount.Abs().GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// Create validates the input and stores a pending transaction under a
// fresh reference. On a reference collision it retries with a new one.
func (s *Service) Create(ctx context.Context, user *models.User, in CreateInput) (*models.Transaction, error) {
	if in.TransactionType == "" || strings.TrimSpace(in.Amount) == "" {
		return nil, ErrMissingField
	}
	txType := models.TransactionType(in.TransactionType)
	if !txType.Valid() {
		return nil, ErrInvalidType
	}
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	attempts := s.ReferenceAttempts
	if attempts <= 0 {
		attempts = DefaultReferenceAttempts
	}
	newRef := s.NewReference
	if newRef == nil {
		newRef = NewReference
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ref, err := newRef()
		if err != nil {
			return nil, err
		}

		created, err := s.store.CreateTransaction(ctx, &models.Transaction{
			UserID:      user.ID,
			Type:        txType,
			Amount:      amount,
			Status:      models.StatusPending,
			Reference:   ref,
			Description: in.Description,
		})
		if errors.Is(err, db.ErrDuplicateReference) {
			s.log.Warn("transaction reference collision",
				zap.Int("attempt", attempt),
				zap.Int64("user_id", user.ID))
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create transaction: %w", err)
		}

		s.log.Info("transaction created",
			zap.Int64("transaction_id", created.ID),
			zap.Int64("user_id", user.ID),
			zap.String("type", string(created.Type)),
			zap.String("amount", created.Amount.StringFixed(2)),
			zap.String("reference", created.Reference))
		if s.Notifier != nil {
			s.Notifier.Publish(user.ID, Event{Type: EventCreated, Transaction: created})
		}
		return created, nil
	}

	return nil, apperr.NewConstraint("Could not allocate a unique transaction reference", lastErr)
}

// List returns the user's own transactions, newest first
func (s *Service) List(ctx context.Context, user *models.User) ([]models.Transaction, error) {
	txs, err := s.store.GetUserTransactions(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
