package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ramory-l/gopusher/apps"
	"github.com/ramory-l/gopusher/ratelimit"
)

// Middleware either passes the request on, possibly with more context, or
// answers it
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that mws run in the given order before it
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type ctxKey int

const (
	appKey ctxKey = iota
	bodyKey
)

// AppFromContext returns the app resolved by the app middleware
func AppFromContext(ctx context.Context) (*apps.App, bool) {
	app, ok := ctx.Value(appKey).(*apps.App)
	return app, ok
}

// BodyFromContext returns the raw request body read by the body middleware
func BodyFromContext(ctx context.Context) []byte {
	body, _ := ctx.Value(bodyKey).([]byte)
	return body
}

// CORSConfig holds the allowed origins, methods and headers
type CORSConfig struct {
	AllowedOrigins []string `yaml:"origins"`
	AllowedMethods []string `yaml:"methods"`
	AllowedHeaders []string `yaml:"headers"`
}

func (r *Router) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		allowed := r.config.CORS.AllowedOrigins
		if origin != "" && (slices.Contains(allowed, "*") || slices.Contains(allowed, origin)) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", strings.Join(r.config.CORS.AllowedMethods, ", "))
			h.Set("Access-Control-Allow-Headers", strings.Join(r.config.CORS.AllowedHeaders, ", "))
			h.Add("Vary", "Origin")
		}

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) withApp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		app, err := r.server.FindAppByID(req.Context(), req.PathValue("appId"))
		if err != nil {
			if errors.Is(err, apps.ErrNotFound) {
				writeError(w, http.StatusNotFound, "App not found")
				return
			}
			r.logger.Error().Err(err).Msg("App lookup failed")
			writeError(w, http.StatusInternalServerError, "App lookup failed")
			return
		}

		ctx := context.WithValue(req.Context(), appKey, app)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (r *Router) jsonBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body []byte
		if req.Body != nil {
			limit := r.config.MaxRequestSize
			data, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "Could not read request body")
				return
			}
			if int64(len(data)) > limit {
				writeError(w, http.StatusRequestEntityTooLarge, "The request body is too large")
				return
			}
			body = data
		}

		if len(body) > 0 && !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "The received data is incorrect")
			return
		}

		ctx := context.WithValue(req.Context(), bodyKey, body)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// maxTimestampSkew bounds how old a signed request may be
const maxTimestampSkew = 600 * time.Second

func (r *Router) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		app, _ := AppFromContext(req.Context())
		query := req.URL.Query()

		if query.Get("auth_key") != app.Key {
			writeError(w, http.StatusUnauthorized, "The auth_key is not valid")
			return
		}

		ts, err := strconv.ParseInt(query.Get("auth_timestamp"), 10, 64)
		if err != nil || time.Since(time.Unix(ts, 0)).Abs() > maxTimestampSkew {
			writeError(w, http.StatusUnauthorized, "The auth_timestamp is not valid")
			return
		}

		body := BodyFromContext(req.Context())
		if !app.VerifyRequest(query.Get("auth_signature"), req.Method, req.URL.Path, query, body) {
			writeError(w, http.StatusUnauthorized, "The auth_signature is not valid")
			return
		}

		next.ServeHTTP(w, req)
	})
}

// pointsFunc returns how many points a request costs and the app's limit
type pointsFunc func(req *http.Request, app *apps.App) (points, limit int)

func readPoints(_ *http.Request, app *apps.App) (int, int) {
	return 1, app.MaxReadRequestsPerSecond
}

func eventPoints(req *http.Request, app *apps.App) (int, int) {
	var body struct {
		Channels []string `json:"channels"`
	}
	_ = json.Unmarshal(BodyFromContext(req.Context()), &body)
	return max(len(body.Channels), 1), app.MaxBackendEventsPerSecond
}

func (r *Router) rateLimit(kind string, points pointsFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			app, _ := AppFromContext(req.Context())
			n, limit := points(req, app)
			if limit <= 0 {
				next.ServeHTTP(w, req)
				return
			}

			decision := r.limiter.Consume(req.Context(), app.ID+":"+kind, n, limit, time.Second)
			applyRateHeaders(w, decision)
			if !decision.Allowed {
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func applyRateHeaders(w http.ResponseWriter, decision ratelimit.Decision) {
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}
