package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/xtrntr/backoffice/internal/models"
	"go.uber.org/zap"
)

type ctxKey int

const (
	userKey ctxKey = iota
	requestIDKey
)

const msgNoCredentials = "Authentication credentials were not provided."

// UserFromContext returns the authenticated user set by the token middleware
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// tokenFromHeader accepts "Bearer <key>" and "Token <key>"
func tokenFromHeader(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, key, found := strings.Cut(header, " ")
	if !found {
		return "", true
	}
	switch strings.ToLower(scheme) {
	case "bearer", "token":
		return strings.TrimSpace(key), true
	default:
		return "", true
	}
}

// TokenAuthMiddleware resolves the Authorization header to an active user
func (h *Handler) TokenAuthMiddleware(next http.Handler) http.Handler {
	return h.tokenAuth(false)(next)
}

// StreamAuthMiddleware also accepts ?token=, since browsers cannot set
// headers on a websocket handshake.
func (h *Handler) StreamAuthMiddleware(next http.Handler) http.Handler {
	return h.tokenAuth(true)(next)
}

func (h *Handler) tokenAuth(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, present := tokenFromHeader(r)
			if !present && allowQuery {
				key = r.URL.Query().Get("token")
				present = key != ""
			}
			if !present {
				writeErrorMessage(w, http.StatusUnauthorized, msgNoCredentials)
				return
			}

			user, err := h.Auth.ResolveToken(r.Context(), key)
			if err != nil {
				h.writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger tags each request with an X-Request-ID and logs its outcome
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set("X-Request-ID", id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("request_id", id),
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("ip", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.Duration("latency", time.Since(start)),
			}
			switch {
			case status >= 500:
				log.Error("server error", fields...)
			case status >= 400:
				log.Warn("client error", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}
