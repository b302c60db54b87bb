package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/karbit/chatrelay/pkg/config"
	"github.com/karbit/chatrelay/pkg/logger"
	"github.com/karbit/chatrelay/pkg/proxy"
	"github.com/karbit/chatrelay/pkg/webhook"
)

const (
	RouteLocalProxy = "local-proxy"
	RouteDirect     = "direct"
	RouteAlternate  = "alternate"
)

// Session holds the correlation ids sent with every message. They are
// generated once per Client and never change.
type Session struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func NewSession() Session {
	return Session{
		UserID:    "user_" + shortID(),
		SessionID: fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), shortID()),
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Reply is what the user sees plus where it came from.
type Reply struct {
	Text     string            `json:"text"`
	Route    string            `json:"route"`
	Status   int               `json:"status"`
	Attempts []webhook.Attempt `json:"attempts"`
}

type Client struct {
	session Session
	chain   *webhook.Chain
	maxLen  int
	now     func() time.Time
}

// New builds a client whose transport order comes from cfg. Extra options
// are passed to the underlying chain.
func New(cfg *config.Config, opts ...webhook.Option) (*Client, error) {
	routes, err := Routes(cfg)
	if err != nil {
		return nil, err
	}

	chainOpts := []webhook.Option{
		webhook.WithTimeout(cfg.ClientTimeout()),
		webhook.WithOrigin(cfg.Client.Origin),
	}
	chainOpts = append(chainOpts, opts...)

	return &Client{
		session: NewSession(),
		chain:   webhook.NewChain(routes, chainOpts...),
		maxLen:  cfg.Client.MaxMessageLength,
		now:     time.Now,
	}, nil
}

// Routes lists transports in the order they are tried: local proxy, direct
// webhook, each CORS relay around the direct webhook, alternate webhook.
func Routes(cfg *config.Config) ([]webhook.Route, error) {
	var routes []webhook.Route

	if p := strings.TrimRight(cfg.Client.ProxyURL, "/"); p != "" {
		routes = append(routes, webhook.Route{Name: RouteLocalProxy, URL: p + "/api/chat", Mode: webhook.ModeProxy})
	}

	if direct := cfg.DirectWebhookURL(); direct != "" {
		routes = append(routes, webhook.Route{Name: RouteDirect, URL: direct, Mode: webhook.ModeDirect})
		for i, prefix := range cfg.Client.CORSProxies {
			if prefix == "" {
				continue
			}
			routes = append(routes, webhook.RelayRoute(fmt.Sprintf("cors-relay-%d", i+1), prefix, direct))
		}
	}

	if alt := cfg.Client.AlternateURL; alt != "" {
		routes = append(routes, webhook.Route{Name: RouteAlternate, URL: alt, Mode: webhook.ModeDirect})
	}

	if len(routes) == 0 {
		return nil, errors.New("no transport configured: set client.proxy_url or a webhook URL")
	}
	return routes, nil
}

func (c *Client) Session() Session {
	return c.session
}

func (c *Client) Routes() []webhook.Route {
	return c.chain.Routes()
}

func (c *Client) Send(ctx context.Context, text string) (*Reply, error) {
	msg, err := webhook.NewMessage(text, c.maxLen, c.session.UserID, c.session.SessionID, c.now())
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	d, err := c.chain.Deliver(ctx, body)
	if err != nil {
		return nil, asProxyError(err)
	}

	reply := d.Reply
	if d.Route.Mode == webhook.ModeProxy {
		reply = unwrapEnvelope(d.Payload)
	}

	logger.DebugCF("client", "Reply received", map[string]interface{}{
		"route": d.Route.Name,
		"chars": len(reply),
	})

	return &Reply{
		Text:     reply,
		Route:    d.Route.Name,
		Status:   d.Status,
		Attempts: d.Attempts,
	}, nil
}

// unwrapEnvelope returns the proxy's already-normalized data field. Anything
// that is not a success envelope is normalized as a plain webhook answer.
func unwrapEnvelope(p webhook.Payload) string {
	if p.JSON {
		env := gjson.ParseBytes(p.Body)
		if env.Get("success").Bool() {
			if data := env.Get("data"); data.Exists() {
				return data.String()
			}
		}
	}
	return webhook.Normalize(p)
}

// ProxyError is a failure the local proxy reported in its error body.
type ProxyError struct {
	Status int
	Body   proxy.ErrorBody
	Err    error
}

func (e *ProxyError) Error() string {
	if e.Body.Details != "" {
		return fmt.Sprintf("proxy: %s: %s", e.Body.Error, e.Body.Details)
	}
	return "proxy: " + e.Body.Error
}

func (e *ProxyError) Unwrap() error { return e.Err }

func asProxyError(err error) error {
	var upstream *webhook.UpstreamError
	if !errors.As(err, &upstream) || upstream.Route != RouteLocalProxy {
		return err
	}
	var body proxy.ErrorBody
	if jsonErr := json.Unmarshal([]byte(upstream.Body), &body); jsonErr != nil || body.Error == "" {
		return err
	}
	return &ProxyError{Status: upstream.Status, Body: body, Err: err}
}

// Suggestion turns any Send error into a hint for the user.
func Suggestion(err error) string {
	var (
		proxyErr  *ProxyError
		tooLong   *webhook.TooLongError
		upstream  *webhook.UpstreamError
		exhausted *webhook.ExhaustedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, webhook.ErrEmptyMessage):
		return "Type a message before sending."
	case errors.As(err, &tooLong):
		return fmt.Sprintf("Keep messages under %d characters.", tooLong.Max)
	case errors.As(err, &proxyErr) && proxyErr.Body.Suggestion != "":
		return proxyErr.Body.Suggestion
	case errors.As(err, &upstream):
		return proxy.Suggest(upstream.Body)
	case errors.As(err, &exhausted):
		var nf *webhook.NotFoundError
		if errors.As(err, &nf) {
			return proxy.Suggest(nf.Body)
		}
		return proxy.SuggestCheckConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled before the webhook answered."
	default:
		return "Failed to send message. Please check your connection and try again."
	}
}
