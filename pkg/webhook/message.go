package webhook

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// TimestampFormat matches JavaScript's Date.toISOString, which is what
// workflow tools expect in the timestamp field.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

var ErrEmptyMessage = errors.New("message is empty")

// TooLongError reports a message over the configured length limit.
type TooLongError struct {
	Length int
	Max    int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("message is %d characters, limit is %d", e.Length, e.Max)
}

// Message is the JSON body posted to a workflow webhook.
type Message struct {
	Text      string `json:"message"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// NewMessage trims text and checks it against maxLen (counted in runes).
// A maxLen of zero or less disables the length check.
func NewMessage(text string, maxLen int, userID, sessionID string, now time.Time) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); maxLen > 0 && n > maxLen {
		return Message{}, &TooLongError{Length: n, Max: maxLen}
	}
	return Message{
		Text:      text,
		Timestamp: now.UTC().Format(TimestampFormat),
		UserID:    userID,
		SessionID: sessionID,
	}, nil
}
