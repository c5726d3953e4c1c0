package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/fulfillment/internal/observability"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const (
	// HeaderActorID carries the acting user, set by the authenticating gateway.
	HeaderActorID = "X-Actor-ID"
	// HeaderBusinessUnitID carries the business unit the user acts for.
	HeaderBusinessUnitID = "X-Business-Unit-ID"
	// HeaderIdempotencyKey lets clients retry mutating requests safely.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger      *slog.Logger
	Config      *Config
	Idempotency shared.IdempotencyKeys
	Metrics     *observability.Metrics
}

// MiddlewareStack installs the Odyssey middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	rateLimit := 120
	if cfg.Config != nil {
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
		if cfg.Config.HTTPRateLimit > 0 {
			rateLimit = cfg.Config.HTTPRateLimit
		}
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		ActorMiddleware,
	}
	if cfg.Idempotency != nil {
		middlewares = append(middlewares, IdempotencyMiddleware(cfg.Idempotency, logger))
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// ActorMiddleware reads the acting user from gateway headers. Requests
// without the header pass through anonymous; handlers that need an actor
// reject them.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawUser := r.Header.Get(HeaderActorID)
		if rawUser == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := strconv.ParseInt(rawUser, 10, 64)
		if err != nil || userID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", HeaderActorID+" must be a positive integer")
			return
		}
		var buID int64
		if rawBU := r.Header.Get(HeaderBusinessUnitID); rawBU != "" {
			buID, err = strconv.ParseInt(rawBU, 10, 64)
			if err != nil || buID <= 0 {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", HeaderBusinessUnitID+" must be a positive integer")
				return
			}
		}
		ctx := shared.ContextWithActor(r.Context(), shared.Actor{UserID: userID, BusinessUnitID: buID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdempotencyMiddleware reserves the Idempotency-Key of mutating requests.
// A replayed key is answered with 409; the key is released again when the
// request fails so the client can retry it.
func IdempotencyMiddleware(keys shared.IdempotencyKeys, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			module := r.Method + " " + r.URL.Path
			if err := keys.CheckAndInsert(r.Context(), key, module); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					httpx.Problem(w, http.StatusConflict, "Conflict", "request with this Idempotency-Key was already processed")
					return
				}
				logger.Error("idempotency reserve", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "could not reserve idempotency key")
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if ww.Status() >= http.StatusBadRequest {
				// The request context may already be cancelled by the timeout.
				if err := keys.Delete(context.WithoutCancel(r.Context()), key, module); err != nil {
					logger.Warn("idempotency release", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
			}
		})
	}
}
