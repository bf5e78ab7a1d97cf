package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/safehome/internal/application"
)

const (
	headerPassword1      = "X-Password-1"
	headerPassword2      = "X-Password-2"
	headerCameraPassword = "X-Camera-Password"
)

// WebAuthenticator checks the web passwords through the WEB interface login.
type WebAuthenticator interface {
	Login(ctx context.Context, user, credential string, iface application.Interface) (application.Principal, error)
}

// RequireWebLogin rejects requests whose password headers do not log in on
// the WEB interface. Failed attempts count toward the interface lockout.
func RequireWebLogin(auth WebAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, ok := webCredential(r)
			if !ok {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingPassword)
				return
			}

			principal, err := auth.Login(r.Context(), "", credential, application.InterfaceWeb)
			if err != nil {
				responder.loggerFor(r.Context()).WarnContext(r.Context(), "web login rejected", "error_kind", application.ErrorKind(err))
				responder.handleServiceError(r.Context(), w, err)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// webCredential joins the two password headers into the WEB credential form.
func webCredential(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	p1 := strings.TrimSpace(r.Header.Get(headerPassword1))
	p2 := strings.TrimSpace(r.Header.Get(headerPassword2))
	if p1 == "" || p2 == "" {
		return "", false
	}
	return p1 + ":" + p2, true
}

func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "duration", time.Since(start))
		})
	}
}
