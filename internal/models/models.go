package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered account holder
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	AccountID    string // 10 digits, empty until assigned
	FreeMargin   decimal.Decimal
	UserFunds    decimal.Decimal
	Balance      decimal.Decimal
	Equity       decimal.Decimal
	MarginLevel  decimal.Decimal // percentage
	IsActive     bool
	IsStaff      bool
	IsSuperuser  bool
	DateJoined   time.Time
}

// NewUser holds the columns supplied when a user row is first inserted
type NewUser struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	IsStaff      bool
	IsSuperuser  bool
}

// Ticket is a support request filed by a user
type Ticket struct {
	ID          int64
	UserID      int64
	Subject     string
	Category    string
	Description string
}

// TransactionType is either a deposit or a withdrawal
type TransactionType string

const (
	Deposit    TransactionType = "deposit"
	Withdrawal TransactionType = "withdrawal"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t == Deposit || t == Withdrawal
}

// TransactionStatus is moved away from pending by settlement only
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusSuccessful TransactionStatus = "successful"
	StatusFailed     TransactionStatus = "failed"
)

// Transaction represents a deposit or withdrawal request
type Transaction struct {
	ID          int64
	UserID      int64
	Type        TransactionType
	Amount      decimal.Decimal
	Status      TransactionStatus
	Reference   string // 12 characters, globally unique
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
