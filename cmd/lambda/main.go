// chatrelay - AWS Lambda handler
// Serves the webhook proxy (POST /api/chat, GET /api/health) behind API Gateway.
//
// Environment variables:
//   CHATRELAY_CONFIG_JSON                - Full config JSON (alternative to config file)
//   CHATRELAY_CONFIG_PATH                - Config file path (default: config.json)
//   CHATRELAY_WEBHOOK_PRODUCTION_URL     - Production webhook URL (overrides config)
//   CHATRELAY_WEBHOOK_TEST_URL           - Test webhook URL tried on 404

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/karbit/chatrelay/pkg/config"
	"github.com/karbit/chatrelay/pkg/logger"
	"github.com/karbit/chatrelay/pkg/proxy"
)

var (
	proxyHandler http.Handler
	initOnce     sync.Once
	initErr      error
)

func initialize() error {
	initOnce.Do(func() {
		initErr = doInit()
	})
	return initErr
}

func doInit() error {
	configPath := os.Getenv("CHATRELAY_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	// API Gateway throttles; the in-process limiter would only see one
	// container's traffic.
	cfg.Gateway.RateLimit = 0

	srv, err := proxy.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}
	proxyHandler = srv.Handler()

	logger.InfoCF("lambda", "Lambda initialized", map[string]interface{}{
		"fallback": cfg.Webhook.TestURL != "",
	})
	return nil
}

func handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if err := initialize(); err != nil {
		logger.ErrorCF("lambda", "Init error", map[string]interface{}{"error": err.Error()})
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	return serve(ctx, proxyHandler, request)
}

// serve replays an API Gateway event against h and converts the recorded
// response back.
func serve(ctx context.Context, h http.Handler, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := request.Body
	if request.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
		}
		body = string(decoded)
	}

	target := request.Path
	if q := queryOf(request); len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, request.HTTPMethod, target, strings.NewReader(body))
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}
	// API Gateway fills both header maps; the multi-value one is a superset.
	if len(request.MultiValueHeaders) > 0 {
		for k, vs := range request.MultiValueHeaders {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	} else {
		for k, v := range request.Headers {
			req.Header.Set(k, v)
		}
	}
	if ip := request.RequestContext.Identity.SourceIP; ip != "" {
		req.RemoteAddr = ip + ":0"
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	headers := make(map[string]string, len(rec.Header()))
	for k := range rec.Header() {
		headers[k] = rec.Header().Get(k)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: rec.Code,
		Headers:    headers,
		Body:       rec.Body.String(),
	}, nil
}

func queryOf(request events.APIGatewayProxyRequest) url.Values {
	q := url.Values{}
	if len(request.MultiValueQueryStringParameters) > 0 {
		for k, vs := range request.MultiValueQueryStringParameters {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		return q
	}
	for k, v := range request.QueryStringParameters {
		q.Set(k, v)
	}
	return q
}

func main() {
	lambda.Start(handler)
}
