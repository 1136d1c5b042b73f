package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/backoffice/internal/auth"
	"github.com/xtrntr/backoffice/internal/ledger"
	"github.com/xtrntr/backoffice/internal/models"
	"github.com/xtrntr/backoffice/internal/notify"
	"github.com/xtrntr/backoffice/internal/testutil/memstore"
	"github.com/xtrntr/backoffice/internal/tickets"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "Tr4ding-Desk-91"

type testEnv struct {
	store   *memstore.Store
	handler *Handler
	router  *chi.Mux
	hub     *notify.Hub
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func setup(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	authService := auth.NewAuthService(store, auth.BcryptHasher{Cost: bcrypt.MinCost}, nil, nil)
	ledgerService := ledger.NewService(store, nil)
	hub := notify.NewHub(nil, nil)
	ledgerService.Notifier = StreamNotifier{Publisher: hub}

	h := NewHandler(authService, tickets.NewService(store, nil), ledgerService, nil)
	h.Stream = hub
	h.DB = fakePinger{}
	return &testEnv{store: store, handler: h, router: NewRouter(h, nil), hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// register creates a user and returns its token
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	rr := e.do(t, "POST", "/register/", "", map[string]string{"email": email, "password": strongPassword})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp["token"].(string)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestHandler_Register(t *testing.T) {
	env := setup(t)

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedError  any
	}{
		{
			name: "Success",
			requestBody: map[string]string{
				"email":      "john@EXAMPLE.com",
				"password":   strongPassword,
				"first_name": "John",
				"last_name":  "Doe",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "DuplicateEmail",
			requestBody:    map[string]string{"email": "john@example.com", "password": strongPassword},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "User with this email already exists",
		},
		{
			name:           "MissingPassword",
			requestBody:    map[string]string{"email": "jane@example.com"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Email and password are required",
		},
		{
			name:           "WeakPassword",
			requestBody:    map[string]string{"email": "jane@example.com", "password": "password"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  []any{"This password is too common."},
		},
		{
			name:           "InvalidBody",
			requestBody:    "{not json",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/register/", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			resp := decode(t, rr)
			if tt.expectedError != nil {
				assert.Equal(t, tt.expectedError, resp["error"])
				return
			}
			assert.Equal(t, "User created successfully", resp["message"])
			user := resp["user"].(map[string]any)
			assert.Equal(t, "john@example.com", user["email"])
			assert.Equal(t, "John", user["first_name"])
			assert.Equal(t, "Doe", user["last_name"])
			assert.NotContains(t, user, "password")
			assert.Len(t, resp["token"], 40)
		})
	}
}

func TestHandler_LoginReturnsSameToken(t *testing.T) {
	env := setup(t)
	token := env.register(t, "kim@example.com")

	for i := 0; i < 2; i++ {
		rr := env.do(t, "POST", "/login", "", map[string]string{"email": "kim@example.com", "password": strongPassword})
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode(t, rr)
		assert.Equal(t, "Login successful", resp["message"])
		assert.Equal(t, token, resp["token"])
	}

	user, err := env.store.GetUserByEmail(context.Background(), "kim@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.TokenCount(user.ID))
}

func TestHandler_LoginFailuresAreIndistinguishable(t *testing.T) {
	env := setup(t)
	env.register(t, "lee@example.com")

	wrongPassword := env.do(t, "POST", "/login", "", map[string]string{"email": "lee@example.com", "password": "Wrong-Pass-77"})
	unknownEmail := env.do(t, "POST", "/login", "", map[string]string{"email": "ghost@example.com", "password": "Wrong-Pass-77"})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	assert.Equal(t, "Invalid email or password", decode(t, wrongPassword)["error"])

	missing := env.do(t, "POST", "/login", "", map[string]string{"email": "lee@example.com"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, "Email and password are required", decode(t, missing)["error"])
}

func TestHandler_TokenAuth(t *testing.T) {
	env := setup(t)
	token := env.register(t, "max@example.com")

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedError  string
	}{
		{name: "Bearer", header: "Bearer " + token, expectedStatus: http.StatusOK},
		{name: "TokenScheme", header: "Token " + token, expectedStatus: http.StatusOK},
		{name: "Missing", expectedStatus: http.StatusUnauthorized, expectedError: "Authentication credentials were not provided."},
		{name: "UnknownKey", header: "Bearer deadbeef", expectedStatus: http.StatusUnauthorized, expectedError: "Invalid token."},
		{name: "WrongScheme", header: "Basic " + token, expectedStatus: http.StatusUnauthorized, expectedError: "Invalid token."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/profile/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			env.router.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, decode(t, rr)["error"])
			}
		})
	}
}

func TestHandler_InactiveUserRejected(t *testing.T) {
	env := setup(t)
	token := env.register(t, "ned@example.com")
	user, err := env.store.GetUserByEmail(context.Background(), "ned@example.com")
	require.NoError(t, err)
	env.store.UpdateUser(user.ID, func(u *models.User) { u.IsActive = false })

	rr := env.do(t, "GET", "/tickets/", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "User inactive or deleted.", decode(t, rr)["error"])
}

func TestHandler_Profile(t *testing.T) {
	env := setup(t)
	aliceToken := env.register(t, "alice@example.com")
	env.register(t, "bob@example.com")

	alice, err := env.store.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	env.store.UpdateUser(alice.ID, func(u *models.User) {
		u.Balance = u.Balance.Add(decimal.RequireFromString("1500.5"))
	})

	rr := env.do(t, "GET", "/profile", aliceToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	user := decode(t, rr)["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "1500.50", user["balance"])
	assert.Equal(t, "0.00", user["free_margin"])
	assert.Equal(t, "0.00", user["user_funds"])
	assert.Equal(t, "0.00", user["equity"])
	assert.Equal(t, "0.00", user["margin_level"])
	assert.Equal(t, alice.AccountID, user["account_id"])
	assert.Len(t, user["account_id"], 10)
	assert.NotContains(t, rr.Body.String(), "bob@example.com")
}

func TestHandler_Tickets(t *testing.T) {
	env := setup(t)
	aliceToken := env.register(t, "alice@example.com")
	bobToken := env.register(t, "bob@example.com")

	rr := env.do(t, "POST", "/tickets/", aliceToken, map[string]string{"subject": "", "category": "bugs", "description": "desc"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []any{"subject is required"}, decode(t, rr)["error"])

	rr = env.do(t, "POST", "/tickets/", aliceToken, map[string]string{"subject": "Help", "category": "bugs", "description": "desc"})
	require.Equal(t, http.StatusCreated, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, "Ticket created successfully", resp["message"])
	ticket := resp["ticket"].(map[string]any)
	assert.Equal(t, "Help", ticket["subject"])
	assert.Equal(t, "alice@example.com", ticket["user"])

	rr = env.do(t, "GET", "/tickets/", aliceToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode(t, rr)["tickets"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Help", list[0].(map[string]any)["subject"])

	rr = env.do(t, "GET", "/tickets/", bobToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, decode(t, rr)["tickets"])
}

func TestHandler_CreateTransaction(t *testing.T) {
	env := setup(t)
	token := env.register(t, "tom@example.com")

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedError  string
		expectedAmount string
	}{
		{
			name:           "DepositString",
			requestBody:    map[string]any{"transaction_type": "deposit", "amount": "100.50", "description": ""},
			expectedStatus: http.StatusCreated,
			expectedAmount: "100.50",
		},
		{
			name:           "WithdrawalNumber",
			requestBody:    `{"transaction_type": "withdrawal", "amount": 20.1}`,
			expectedStatus: http.StatusCreated,
			expectedAmount: "20.10",
		},
		{
			name:           "InvalidType",
			requestBody:    map[string]any{"transaction_type": "invalid_type", "amount": "10"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid transaction type",
		},
		{
			name:           "InvalidAmount",
			requestBody:    map[string]any{"transaction_type": "deposit", "amount": "abc"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Amount must be a number",
		},
		{
			name:           "BooleanAmount",
			requestBody:    `{"transaction_type": "deposit", "amount": true}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Amount must be a number",
		},
		{
			name:           "MissingAmount",
			requestBody:    map[string]any{"transaction_type": "deposit"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "transaction_type and amount are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/transactions/", token, tt.requestBody)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			resp := decode(t, rr)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, resp["error"])
				return
			}
			assert.Equal(t, "Transaction created successfully", resp["message"])
			tx := resp["transaction"].(map[string]any)
			assert.Equal(t, "pending", tx["status"])
			assert.Equal(t, tt.expectedAmount, tx["amount"])
			assert.Len(t, tx["reference"], 12)
			assert.NotEmpty(t, tx["created_at"])
		})
	}
}

func TestHandler_ReferenceExhaustionIs500(t *testing.T) {
	env := setup(t)
	token := env.register(t, "ref@example.com")
	env.handler.Ledger.NewReference = func() (string, error) { return "SAMEREFERENC", nil }

	rr := env.do(t, "POST", "/transactions", token, map[string]any{"transaction_type": "deposit", "amount": "1"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, "POST", "/transactions", token, map[string]any{"transaction_type": "deposit", "amount": "2"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Could not allocate a unique transaction reference", decode(t, rr)["error"])
}

func TestHandler_ListTransactionsOwnedOnly(t *testing.T) {
	env := setup(t)
	aliceToken := env.register(t, "alice@example.com")
	bobToken := env.register(t, "bob@example.com")

	for _, amount := range []string{"1", "2"} {
		rr := env.do(t, "POST", "/transactions", aliceToken, map[string]any{"transaction_type": "deposit", "amount": amount})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := env.do(t, "GET", "/transactions/", aliceToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode(t, rr)["transactions"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "2.00", list[0].(map[string]any)["amount"])

	rr = env.do(t, "GET", "/transactions/", bobToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, decode(t, rr)["transactions"])
}

func TestHandler_TransactionStream(t *testing.T) {
	env := setup(t)
	token := env.register(t, "sam@example.com")
	user, err := env.store.GetUserByEmail(context.Background(), "sam@example.com")
	require.NoError(t, err)

	srv := httptest.NewServer(env.router)
	defer srv.Close()
	defer env.hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/transactions/stream/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return env.hub.Subscribers(user.ID) == 1 }, time.Second, 10*time.Millisecond)

	rr := env.do(t, "POST", "/transactions", token, map[string]any{"transaction_type": "deposit", "amount": "42"})
	require.Equal(t, http.StatusCreated, rr.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, ledger.EventCreated, event["type"])
	assert.Equal(t, "42.00", event["transaction"].(map[string]any)["amount"])

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/transactions/stream/", nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_StreamDisabled(t *testing.T) {
	env := setup(t)
	token := env.register(t, "off@example.com")
	env.handler.Stream = nil

	rr := env.do(t, "GET", "/transactions/stream", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler_Health(t *testing.T) {
	env := setup(t)

	rr := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])

	env.handler.DB = fakePinger{err: errors.New("connection refused")}
	rr = env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRequestLogger_RequestID(t *testing.T) {
	env := setup(t)

	rr := env.do(t, "GET", "/health", "", nil)
	assert.Len(t, rr.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestRouter_CORSWithoutCredentials(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://desk.example.com")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest("OPTIONS", "/transactions", nil)
	req.Header.Set("Origin", "https://desk.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{`"100.50"`, "100.50"},
		{`100.5`, "100.5"},
		{`1e3`, "1e3"},
		{`null`, ""},
		{`true`, "true"},
	}
	for _, tt := range tests {
		var f flexString
		require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
		assert.Equal(t, tt.expected, string(f))
	}
}
