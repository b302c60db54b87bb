package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/karbit/chatrelay/pkg/webhook"
)

const (
	SuggestActivateWorkflow = "The workflow needs to be activated in n8n. Go to your n8n workflow and click the toggle to activate it."
	SuggestCheckURL         = "Please check the webhook URL and try again."
	SuggestCheckConnection  = "Check your internet connection and ensure the n8n workflow is active."
	SuggestShorterMessage   = "Send a shorter message."
	SuggestSlowDown         = "Too many messages at once. Wait a moment and try again."
)

// Envelope is the success body of POST /api/chat.
type Envelope struct {
	Success     bool            `json:"success"`
	Data        string          `json:"data"`
	WebhookUsed string          `json:"webhook_used"`
	RawData     webhook.Payload `json:"raw_data"`
}

// ErrorBody is the failure body of POST /api/chat.
type ErrorBody struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Suggest picks a hint from an upstream error body. n8n answers inactive
// workflows with a JSON message saying the webhook is "not registered".
func Suggest(details string) string {
	if gjson.Valid(details) && strings.Contains(gjson.Get(details, "message").String(), "not registered") {
		return SuggestActivateWorkflow
	}
	return SuggestCheckURL
}

func failureResponse(err error) (int, ErrorBody) {
	var (
		upstream *webhook.UpstreamError
		notFound *webhook.NotFoundError
		status   int
		route    string
		details  string
	)
	switch {
	case errors.As(err, &upstream):
		status, route, details = upstream.Status, upstream.Route, upstream.Body
	case errors.As(err, &notFound):
		status, route, details = http.StatusNotFound, notFound.Route, notFound.Body
	default:
		return http.StatusInternalServerError, ErrorBody{
			Error:      "Failed to communicate with webhook",
			Details:    err.Error(),
			Suggestion: SuggestCheckConnection,
		}
	}

	msg := fmt.Sprintf("Webhook error: %d", status)
	if route != RouteProduction {
		msg = fmt.Sprintf("Both webhooks failed. Status: %d", status)
	}
	return status, ErrorBody{Error: msg, Details: details, Suggestion: Suggest(details)}
}
