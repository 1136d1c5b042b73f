package api

import (
	"context"
	"net/http"

	"github.com/xtrntr/backoffice/internal/auth"
	"github.com/xtrntr/backoffice/internal/ledger"
	"github.com/xtrntr/backoffice/internal/models"
	"github.com/xtrntr/backoffice/internal/tickets"
	"go.uber.org/zap"
)

const msgInvalidBody = "Invalid request body"

// Pinger reports whether the database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Streamer serves a user's live event stream
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID int64)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Auth    *auth.AuthService
	Tickets *tickets.Service
	Ledger  *ledger.Service
	// Stream and DB are optional
	Stream Streamer
	DB     Pinger

	log *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(authService *auth.AuthService, ticketService *tickets.Service, ledgerService *ledger.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Auth: authService, Tickets: ticketService, Ledger: ledgerService, log: log}
}

type credentialsRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type sessionResponse struct {
	Message string   `json:"message"`
	User    userView `json:"user"`
	Token   string   `json:"token"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	user, token, err := h.Auth.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		Message: "User created successfully",
		User:    newUserView(user),
		Token:   token,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	user, token, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Message: "Login successful",
		User:    newUserView(user),
		Token:   token,
	})
}

// Profile returns the caller's own account, including monetary fields
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	current := mustUser(r)
	user, err := h.Auth.Profile(r.Context(), current.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]profileView{"user": newProfileView(user)})
}

// ListTickets returns the caller's tickets
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.Tickets.List(r.Context(), mustUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]ticketView, 0, len(list))
	for i := range list {
		views = append(views, newTicketView(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string][]ticketView{"tickets": views})
}

// CreateTicket files a ticket for the caller
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req tickets.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	user := mustUser(r)
	ticket, err := h.Tickets.Create(r.Context(), user, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view := newTicketView(ticket)
	view.User = user.Email
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Ticket created successfully",
		"ticket":  view,
	})
}

// ListTransactions returns the caller's transactions, newest first
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Ledger.List(r.Context(), mustUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]transactionView, 0, len(list))
	for i := range list {
		views = append(views, newTransactionView(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string][]transactionView{"transactions": views})
}

// CreateTransaction records a pending deposit or withdrawal
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionType string     `json:"transaction_type"`
		Amount          flexString `json:"amount"`
		Description     string     `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	tx, err := h.Ledger.Create(r.Context(), mustUser(r), ledger.CreateInput{
		TransactionType: req.TransactionType,
		Amount:          string(req.Amount),
		Description:     req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "Transaction created successfully",
		"transaction": newTransactionView(tx),
	})
}

// StreamTransactions upgrades to a websocket that receives the caller's
// new transactions as they are created.
func (h *Handler) StreamTransactions(w http.ResponseWriter, r *http.Request) {
	if h.Stream == nil {
		writeErrorMessage(w, http.StatusNotFound, "Transaction stream is disabled")
		return
	}
	h.Stream.Serve(w, r, mustUser(r).ID)
}

// Health reports liveness and database reachability
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mustUser is only called behind the token middleware
func mustUser(r *http.Request) *models.User {
	user, ok := UserFromContext(r.Context())
	if !ok {
		panic("api: handler mounted without token middleware")
	}
	return user
}
