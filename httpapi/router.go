package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ramory-l/gopusher"
	"github.com/ramory-l/gopusher/log"
	"github.com/ramory-l/gopusher/metrics"
	"github.com/ramory-l/gopusher/ratelimit"
)

// Config holds HTTP API configuration
type Config struct {
	CORS CORSConfig
	// MaxRequestSize bounds request bodies, in bytes
	MaxRequestSize int64
	// Gatherer backs /metrics; nil disables the route
	Gatherer prometheus.Gatherer
}

// DefaultConfig returns default HTTP API configuration
func DefaultConfig() Config {
	return Config{
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "X-Auth-Token", "X-Requested-With", "Accept", "Authorization"},
		},
		MaxRequestSize: 100 * 1024,
	}
}

// Router serves the Pusher HTTP API and the websocket endpoint
type Router struct {
	mux     *http.ServeMux
	config  Config
	server  *gopusher.Server
	limiter ratelimit.Limiter
	metrics metrics.Recorder
	logger  zerolog.Logger
}

// NewRouter wires every route. A nil limiter falls back to an in-memory one.
func NewRouter(config Config, server *gopusher.Server, limiter ratelimit.Limiter, recorder metrics.Recorder) *Router {
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = DefaultConfig().MaxRequestSize
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if limiter == nil {
		limiter = ratelimit.NewMemory()
	}

	r := &Router{
		mux:     http.NewServeMux(),
		config:  config,
		server:  server,
		limiter: limiter,
		metrics: recorder,
		logger:  log.WithComponent("http"),
	}
	r.register()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	read := []Middleware{r.cors, r.withApp, r.jsonBody, r.auth, r.rateLimit("read", readPoints)}
	write := []Middleware{r.cors, r.withApp, r.jsonBody, r.auth, r.rateLimit("events", eventPoints)}

	r.mux.Handle("GET /{$}", r.audit("health", http.HandlerFunc(r.handleHealth)))
	r.mux.Handle("GET /ready", r.audit("ready", http.HandlerFunc(r.handleReady)))
	r.mux.Handle("GET /usage", r.audit("usage", http.HandlerFunc(r.handleUsage)))
	if r.config.Gatherer != nil {
		r.mux.Handle("GET /metrics", metrics.Handler(r.config.Gatherer))
	}

	r.mux.Handle("GET /apps/{appId}/channels", r.audit("channels", Chain(http.HandlerFunc(r.handleChannels), read...)))
	r.mux.Handle("GET /apps/{appId}/channels/{channel}", r.audit("channel", Chain(http.HandlerFunc(r.handleChannel), read...)))
	r.mux.Handle("GET /apps/{appId}/channels/{channel}/users", r.audit("users", Chain(http.HandlerFunc(r.handleUsers), read...)))
	r.mux.Handle("POST /apps/{appId}/events", r.audit("events", Chain(http.HandlerFunc(r.handleEvents), write...)))
	r.mux.Handle("OPTIONS /apps/", Chain(http.NotFoundHandler(), r.cors))

	r.mux.Handle("GET /app/{key}", r.audit("websocket", r.server))
}

// audit logs the request and records its duration
func (r *Router) audit(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		timer := metrics.NewTimer()
		next.ServeHTTP(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := timer.Duration()
		r.metrics.ObserveHTTPRequest(req.Method, route, status, duration)

		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = r.logger.Error()
		case status >= http.StatusBadRequest:
			event = r.logger.Warn()
		default:
			event = r.logger.Debug()
		}
		event.
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("route", route).
			Int("status", status).
			Int("bytes", recorder.bytes).
			Dur("duration", duration.Round(time.Microsecond)).
			Msg("http_request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
