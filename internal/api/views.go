package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/backoffice/internal/ledger"
	"github.com/xtrntr/backoffice/internal/models"
)

type userView struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type profileView struct {
	userView
	FreeMargin  string  `json:"free_margin"`
	UserFunds   string  `json:"user_funds"`
	Balance     string  `json:"balance"`
	Equity      string  `json:"equity"`
	MarginLevel string  `json:"margin_level"`
	AccountID   *string `json:"account_id"`
}

type ticketView struct {
	ID          int64  `json:"id"`
	Subject     string `json:"subject"`
	Category    string `json:"category"`
	Description string `json:"description"`
	User        string `json:"user,omitempty"`
}

type transactionView struct {
	ID              int64     `json:"id"`
	TransactionType string    `json:"transaction_type"`
	Amount          string    `json:"amount"`
	Status          string    `json:"status"`
	Reference       string    `json:"reference"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
}

type eventView struct {
	Type        string          `json:"type"`
	Transaction transactionView `json:"transaction"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func newUserView(u *models.User) userView {
	return userView{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

func newProfileView(u *models.User) profileView {
	p := profileView{
		userView:    newUserView(u),
		FreeMargin:  money(u.FreeMargin),
		UserFunds:   money(u.UserFunds),
		Balance:     money(u.Balance),
		Equity:      money(u.Equity),
		MarginLevel: money(u.MarginLevel),
	}
	if u.AccountID != "" {
		id := u.AccountID
		p.AccountID = &id
	}
	return p
}

func newTicketView(t *models.Ticket) ticketView {
	return ticketView{ID: t.ID, Subject: t.Subject, Category: t.Category, Description: t.Description}
}

func newTransactionView(t *models.Transaction) transactionView {
	return transactionView{
		ID:              t.ID,
		TransactionType: string(t.Type),
		Amount:          money(t.Amount),
		Status:          string(t.Status),
		Reference:       t.Reference,
		Description:     t.Description,
		CreatedAt:       t.CreatedAt,
	}
}

// flexString accepts a JSON string or a bare JSON number and keeps its
// text. Other JSON values keep their literal text so they fail parsing
// downstream; null stays empty.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

// Publisher is the subset of the websocket hub the stream needs
type Publisher interface {
	Publish(userID int64, v any)
}

// StreamNotifier renders ledger events in the API's transaction shape and
// hands them to a Publisher.
type StreamNotifier struct {
	Publisher Publisher
}

func (n StreamNotifier) Publish(userID int64, event ledger.Event) {
	n.Publisher.Publish(userID, eventView{
		Type:        event.Type,
		Transaction: newTransactionView(event.Transaction),
	})
}
