package db

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/backoffice/internal/models"
)

const transactionColumns = `id, user_id, transaction_type, amount::text, status, reference,
	COALESCE(description, ''), created_at, updated_at`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	t := &models.Transaction{}
	var txType, status, amount string
	err := row.Scan(&t.ID, &t.UserID, &txType, &amount, &status, &t.Reference,
		&t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(txType)
	t.Status = models.TransactionStatus(status)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	return t, nil
}

// CreateTransaction inserts a transaction. A reference collision is
// reported as ErrDuplicateReference.
func (db *DB) CreateTransaction(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	newTx, err := scanTransaction(db.Pool.QueryRow(ctx,
		`INSERT INTO transactions (user_id, transaction_type, amount, status, reference, description)
		 VALUES ($1, $2, $3::numeric, $4, $5, NULLIF($6, ''))
		 RETURNING `+transactionColumns,
		t.UserID, string(t.Type), t.Amount.String(), string(t.Status), t.Reference, t.Description))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", translate(err))
	}
	return newTx, nil
}

// GetUserTransactions retrieves all transactions for a user, newest first
func (db *DB) GetUserTransactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return transactions, nil
}

// CreateTicket inserts a support ticket
func (db *DB) CreateTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	newTicket := &models.Ticket{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO tickets (user_id, subject, category, description) VALUES ($1, $2, $3, $4)
		 RETURNING id, user_id, subject, category, description`,
		t.UserID, t.Subject, t.Category, t.Description).Scan(
		&newTicket.ID, &newTicket.UserID, &newTicket.Subject, &newTicket.Category, &newTicket.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", translate(err))
	}
	return newTicket, nil
}

// GetUserTickets retrieves all tickets for a user
func (db *DB) GetUserTickets(ctx context.Context, userID int64) ([]models.Ticket, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, subject, category, description FROM tickets WHERE user_id = $1 ORDER BY id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user tickets: %w", err)
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.Subject, &t.Category, &t.Description); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tickets: %w", err)
	}
	return tickets, nil
}
