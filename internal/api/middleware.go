package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/xtrntr/resourceswap/internal/models"
)

// IdempotencyHeader names the client supplied request key
const IdempotencyHeader = "Idempotency-Key"

type callerKey struct{}

// CallerFromContext returns the authenticated account bound by JWTAuthMiddleware
func CallerFromContext(ctx context.Context) (models.Account, bool) {
	a, ok := ctx.Value(callerKey{}).(models.Account)
	return a, ok && a != ""
}

// JWTAuthMiddleware verifies bearer tokens and binds the caller account
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeFailure(w, http.StatusUnauthorized, codeUnauthorized, "authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		account, err := h.AuthService.AccountFromToken(tokenString)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey{}, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdempotencyMiddleware rejects a repeated Idempotency-Key of the same caller
// with 409. Keys of requests that fail are released so they can be retried.
// Requests without the header, or a handler without a store, pass through.
func (h *Handler) IdempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if header == "" || h.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}
		caller, _ := CallerFromContext(r.Context())
		key := string(caller) + ":" + header

		claimed, err := h.idempotency.SetIdempotency(r.Context(), key)
		if err != nil {
			h.log.WithError(err).WithField("account", caller).Error("idempotency store failed")
			writeFailure(w, http.StatusServiceUnavailable, codeUnavailable, "idempotency store unavailable")
			return
		}
		if !claimed {
			writeFailure(w, http.StatusConflict, codeDuplicate, "duplicate request")
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			// A panicking handler is failed too; the panic goes on to Recoverer
			if rec := recover(); rec != nil {
				h.releaseIdempotency(r, caller, key)
				panic(rec)
			}
			if ww.Status() >= http.StatusBadRequest {
				h.releaseIdempotency(r, caller, key)
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

func (h *Handler) releaseIdempotency(r *http.Request, caller models.Account, key string) {
	if err := h.idempotency.ReleaseIdempotency(context.WithoutCancel(r.Context()), key); err != nil {
		h.log.WithError(err).WithField("account", caller).Warn("failed to release idempotency key")
	}
}
