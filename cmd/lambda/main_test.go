package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karbit/chatrelay/pkg/config"
	"github.com/karbit/chatrelay/pkg/proxy"
)

func newProxy(t *testing.T, hookURL string) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Webhook.ProductionURL = hookURL
	cfg.Gateway.RateLimit = 0
	s, err := proxy.NewServer(cfg)
	require.NoError(t, err)
	return s.Handler()
}

func TestServe_ChatEvent(t *testing.T) {
	var got string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"from lambda"}`))
	}))
	t.Cleanup(hook.Close)

	body := `{"message":"hi","session_id":"s"}`
	resp, err := serve(context.Background(), newProxy(t, hook.URL), events.APIGatewayProxyRequest{
		HTTPMethod:      http.MethodPost,
		Path:            "/api/chat",
		Headers:         map[string]string{"Content-Type": "application/json"},
		Body:            base64.StdEncoding.EncodeToString([]byte(body)),
		IsBase64Encoded: true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	assert.Equal(t, body, got)

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &env))
	assert.Equal(t, "from lambda", env["data"])
	assert.Equal(t, "production", env["webhook_used"])
}

func TestServe_Preflight(t *testing.T) {
	resp, err := serve(context.Background(), newProxy(t, "http://unused.invalid"), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodOptions,
		Path:       "/api/chat",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GET, POST, OPTIONS", resp.Headers["Access-Control-Allow-Methods"])
}

func TestServe_BadBase64(t *testing.T) {
	resp, err := serve(context.Background(), newProxy(t, "http://unused.invalid"), events.APIGatewayProxyRequest{
		HTTPMethod:      http.MethodPost,
		Path:            "/api/chat",
		Body:            "***",
		IsBase64Encoded: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_HeadersAndQuery(t *testing.T) {
	var got *http.Request
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusNoContent)
	})

	resp, err := serve(context.Background(), h, events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/api/health",
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "text/plain",
		},
		MultiValueHeaders: map[string][]string{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json", "text/plain"},
		},
		QueryStringParameters:           map[string]string{"v": "2"},
		MultiValueQueryStringParameters: map[string][]string{"v": {"1", "2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NotNil(t, got)
	assert.Equal(t, []string{"application/json"}, got.Header.Values("Content-Type"))
	assert.Equal(t, []string{"application/json", "text/plain"}, got.Header.Values("Accept"))
	assert.Equal(t, []string{"1", "2"}, got.URL.Query()["v"])
	assert.Equal(t, "/api/health", got.URL.Path)
}

func TestServe_SingleValueFallback(t *testing.T) {
	var got *http.Request
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { got = r })

	_, err := serve(context.Background(), h, events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  "/api/health",
		Headers:               map[string]string{"X-Test": "a"},
		QueryStringParameters: map[string]string{"q": "hello world"},
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, []string{"a"}, got.Header.Values("X-Test"))
	assert.Equal(t, "hello world", got.URL.Query().Get("q"))
}
