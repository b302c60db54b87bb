package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/karbit/chatrelay/pkg/logger"
)

const DefaultTimeout = 10 * time.Second

// Mode selects the headers a route needs.
type Mode string

const (
	// ModeProxy is a chatrelay proxy answering with an envelope.
	ModeProxy Mode = "proxy"
	// ModeDirect calls the workflow webhook itself.
	ModeDirect Mode = "direct"
	// ModeRelay goes through a public CORS relay wrapping the webhook URL.
	ModeRelay Mode = "relay"
)

// Route is one transport the chain can try.
type Route struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Mode Mode   `json:"mode"`
}

// RelayRoute wraps target in a CORS relay prefix. Prefixes ending in "="
// take the target as a query value and get it escaped, the rest take it
// as a path suffix.
func RelayRoute(name, prefix, target string) Route {
	u := prefix + target
	if strings.HasSuffix(prefix, "=") {
		u = prefix + url.QueryEscape(target)
	}
	return Route{Name: name, URL: u, Mode: ModeRelay}
}

// Delivery is the result of the first route that answered 2xx.
type Delivery struct {
	Route    Route     `json:"route"`
	Status   int       `json:"status"`
	Payload  Payload   `json:"payload"`
	Reply    string    `json:"reply"`
	Attempts []Attempt `json:"attempts"`
}

type Option func(*Chain)

// WithTimeout bounds each attempt. Zero or negative keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRestyClient reuses rc, and with it rc's transport and idle
// connections, for every attempt.
func WithRestyClient(rc *resty.Client) Option {
	return func(c *Chain) {
		if rc != nil {
			c.client = rc
		}
	}
}

// WithOrigin sets the Origin header sent on direct and relay routes.
func WithOrigin(origin string) Option {
	return func(c *Chain) { c.origin = origin }
}

// Chain posts a body to its routes in order until one succeeds.
// Attempts are sequential; a route is only tried after the previous one
// failed with a NetworkError or NotFoundError.
type Chain struct {
	routes  []Route
	client  *resty.Client
	timeout time.Duration
	origin  string
}

func NewChain(routes []Route, opts ...Option) *Chain {
	c := &Chain{
		routes:  append([]Route(nil), routes...),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = resty.New()
	}
	return c
}

func (c *Chain) Routes() []Route {
	return append([]Route(nil), c.routes...)
}

func (c *Chain) Deliver(ctx context.Context, body []byte) (*Delivery, error) {
	if len(c.routes) == 0 {
		return nil, ErrNoRoutes
	}

	attempts := make([]Attempt, 0, len(c.routes))
	for i, route := range c.routes {
		if i > 0 {
			logger.InfoCF("webhook", fmt.Sprintf("Trying fallback #%d", i),
				map[string]interface{}{"route": route.Name})
		}

		start := time.Now()
		payload, status, err := c.attempt(ctx, route, body)
		attempts = append(attempts, Attempt{
			Route:    route.Name,
			Status:   status,
			Duration: time.Since(start),
			Err:      err,
		})

		if err == nil {
			logger.InfoCF("webhook", "Webhook delivered",
				map[string]interface{}{"route": route.Name, "status": status, "attempts": len(attempts)})
			return &Delivery{
				Route:    route,
				Status:   status,
				Payload:  payload,
				Reply:    Normalize(payload),
				Attempts: attempts,
			}, nil
		}

		if !Retryable(err) {
			logger.WarnCF("webhook", fmt.Sprintf("Route %s failed: %v", route.Name, err),
				map[string]interface{}{"status": status})
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("delivery cancelled: %w", ctx.Err())
		}

		logger.WarnCF("webhook", fmt.Sprintf("Route %s failed, moving on: %v", route.Name, err),
			map[string]interface{}{"status": status})
	}

	return nil, &ExhaustedError{Attempts: attempts}
}

func (c *Chain) attempt(ctx context.Context, route Route, body []byte) (Payload, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(bytes.Clone(body))

	switch route.Mode {
	case ModeDirect, ModeRelay:
		req.SetHeader("Accept", "application/json")
		if c.origin != "" {
			req.SetHeader("Origin", c.origin)
		}
		if route.Mode == ModeRelay {
			// cors-anywhere style relays refuse requests without it
			req.SetHeader("X-Requested-With", "XMLHttpRequest")
		}
	}

	resp, err := req.Post(route.URL)
	if err != nil {
		return Payload{}, 0, &NetworkError{Route: route.Name, Err: unwrapURLError(err)}
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusNotFound:
		return Payload{}, status, &NotFoundError{Route: route.Name, Body: resp.String()}
	case status < 200 || status > 299:
		return Payload{}, status, &UpstreamError{Route: route.Name, Status: status, Body: resp.String()}
	}

	return DecodePayload(resp.Header().Get("Content-Type"), resp.Body()), status, nil
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
