// Package tickets files and lists support requests for a user.
package tickets

import (
	"context"
	"fmt"

	"github.com/xtrntr/backoffice/internal/apperr"
	"github.com/xtrntr/backoffice/internal/models"
	"github.com/xtrntr/backoffice/internal/validation"
	"go.uber.org/zap"
)

// Store persists tickets
type Store interface {
	CreateTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error)
	GetUserTickets(ctx context.Context, userID int64) ([]models.Ticket, error)
}

// CreateInput is the ticket payload
type CreateInput struct {
	Subject     string `json:"subject" validate:"required,max=200"`
	Category    string `json:"category" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
}

// Service creates and lists tickets owned by a user
type Service struct {
	store    Store
	validate *validation.Validator
	log      *zap.Logger
}

// NewService creates a ticket service
func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, validate: validation.New(), log: log}
}

// Create files a ticket for user. Every missing or oversized field is
// reported in one validation error.
func (s *Service) Create(ctx context.Context, user *models.User, in CreateInput) (*models.Ticket, error) {
	fieldErrs, err := s.validate.Struct(in)
	if err != nil {
		return nil, err
	}
	if len(fieldErrs) > 0 {
		return nil, apperr.NewValidationList(validation.Messages(fieldErrs))
	}

	ticket, err := s.store.CreateTicket(ctx, &models.Ticket{
		UserID:      user.ID,
		Subject:     in.Subject,
		Category:    in.Category,
		Description: in.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	s.log.Info("ticket created",
		zap.Int64("ticket_id", ticket.ID),
		zap.Int64("user_id", user.ID),
		zap.String("category", ticket.Category))
	return ticket, nil
}

// List returns the user's own tickets
func (s *Service) List(ctx context.Context, user *models.User) ([]models.Ticket, error) {
	tickets, err := s.store.GetUserTickets(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}
