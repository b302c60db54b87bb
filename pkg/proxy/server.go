package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/karbit/chatrelay/pkg/config"
	"github.com/karbit/chatrelay/pkg/logger"
	"github.com/karbit/chatrelay/pkg/webhook"
)

const (
	RouteProduction = "production"
	RouteTest       = "test"

	shutdownTimeout = 5 * time.Second
)

// Server relays chat payloads to the configured workflow webhooks so
// browsers never call them cross-origin.
type Server struct {
	webhook    config.WebhookConfig
	timeout    time.Duration
	maxBody    int64
	addr       string
	trustProxy bool
	limiter    *ipLimiter
	httpClient *http.Client
	upstream   *resty.Client
	handler    http.Handler
}

type Option func(*Server)

// WithHTTPClient sets the client used for upstream webhook calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) { s.httpClient = hc }
}

func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg.Webhook.ProductionURL == "" {
		return nil, fmt.Errorf("webhook.production_url is required")
	}

	maxBody := cfg.Gateway.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	s := &Server{
		webhook:    cfg.Webhook,
		timeout:    cfg.WebhookTimeout(),
		maxBody:    maxBody,
		addr:       cfg.GatewayAddr(),
		trustProxy: cfg.Gateway.TrustProxy,
		limiter:    newIPLimiter(cfg.Gateway.RateLimit, cfg.Gateway.RateBurst),
	}
	for _, opt := range opts {
		opt(s)
	}

	// One client for all requests so upstream connections are pooled.
	// Cookies set by the webhook must not leak between callers.
	if s.httpClient != nil {
		s.upstream = resty.NewWithClient(s.httpClient)
	} else {
		s.upstream = resty.New()
	}
	s.upstream.SetCookieJar(nil)

	s.handler = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close drops idle upstream connections.
func (s *Server) Close() {
	s.upstream.GetClient().CloseIdleConnections()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.trustProxy {
		// Forwarded headers are client-controlled unless a proxy in front
		// of us overwrites them.
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})

	r.Get("/api/health", s.handleHealth)
	r.With(s.limiter.middleware).Post("/api/chat", s.handleChat)
	return r
}

// upstreamRoutes is built per request; nothing about which webhook
// answered last time carries over.
func (s *Server) upstreamRoutes() []webhook.Route {
	routes := []webhook.Route{{Name: RouteProduction, URL: s.webhook.ProductionURL, Mode: webhook.ModeDirect}}
	if s.webhook.TestURL != "" {
		routes = append(routes, webhook.Route{Name: RouteTest, URL: s.webhook.TestURL, Mode: webhook.ModeDirect})
	}
	return routes
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorBody{
				Error:      "Request body too large",
				Details:    fmt.Sprintf("limit is %d bytes", tooLarge.Limit),
				Suggestion: SuggestShorterMessage,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "Could not read request body", Details: err.Error()})
		return
	}

	logger.InfoCF("proxy", "Received chat request", map[string]interface{}{
		"bytes":      len(body),
		"remote":     r.RemoteAddr,
		"request_id": middleware.GetReqID(r.Context()),
	})

	chain := webhook.NewChain(s.upstreamRoutes(), webhook.WithTimeout(s.timeout), webhook.WithRestyClient(s.upstream))
	d, err := chain.Deliver(r.Context(), body)
	if err != nil {
		status, errBody := failureResponse(err)
		logger.ErrorCF("proxy", "Webhook delivery failed", map[string]interface{}{
			"status": status,
			"error":  err.Error(),
		})
		writeJSON(w, status, errBody)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{
		Success:     true,
		Data:        d.Reply,
		WebhookUsed: d.Route.Name,
		RawData:     d.Payload,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(webhook.TimestampFormat),
	})
}

// Run listens on the configured gateway address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}

	logger.InfoCF("proxy", "Proxy started", map[string]interface{}{
		"addr":     ln.Addr().String(),
		"fallback": s.webhook.TestURL != "",
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	logger.InfoC("proxy", "Proxy stopped")
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		logger.WarnCF("proxy", "Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}
