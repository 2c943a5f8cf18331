package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/killer-ai/killer/pkg/gemini"
)

// Kind classifies a request failure that is shown to the user.
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindConfigMissing
	KindTimeout
	KindRemoteRejected
	KindTransport
	KindConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindConfigMissing:
		return "config_missing"
	case KindTimeout:
		return "timeout"
	case KindRemoteRejected:
		return "remote_rejected"
	case KindTransport:
		return "transport"
	case KindConfigInvalid:
		return "config_invalid"
	default:
		return "unknown"
	}
}

// User-facing messages.
const (
	MsgTimeout       = "Request timed out. Please try again."
	MsgConfigMissing = "API key not configured. Please check settings."
	MsgBadEndpoint   = "API endpoint is invalid. Please check settings."
	MsgDailyQuota    = "Daily API quota exceeded (50 requests/day). Extension will reset tomorrow. Try shorter text or check cached responses."
	MsgRateLimited   = "API rate limit exceeded. Please wait a moment and try again."
	MsgAccessDenied  = "API access denied. Please check your API key in settings."
	MsgBadRequest    = "Invalid request. Please try selecting different text."
	MsgNotFound      = "API endpoint not found."
	MsgRemoteError   = "API returned an error"
	MsgTransport     = "Could not reach the API. Please check your connection and try again."
	MsgInvalidMode   = "Unknown mode. Use \"explain\" or \"answer\"."
	MsgEmptyText     = "No text selected."
	MsgEmptyResponse = "Empty response"
	MsgNoResponse    = "No response generated"
	MsgSafetyBlocked = "Response blocked by safety filters. Please try different text."
)

// Error is a failure surfaced to the user. Message is safe to display.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps a remote client error onto a user-facing Error.
func classify(err error) *Error {
	var apiErr *gemini.APIError
	switch {
	case errors.Is(err, gemini.ErrTimeout):
		return &Error{Kind: KindTimeout, Message: MsgTimeout, Err: err}
	case errors.As(err, &apiErr):
		return &Error{
			Kind:    KindRemoteRejected,
			Status:  apiErr.StatusCode,
			Message: rejectedMessage(apiErr.StatusCode, apiErr.Message),
			Err:     err,
		}
	default:
		return &Error{Kind: KindTransport, Message: MsgTransport, Err: err}
	}
}

func rejectedMessage(status int, vendorMessage string) string {
	switch status {
	case http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(vendorMessage), "quota") {
			return MsgDailyQuota
		}
		return MsgRateLimited
	case http.StatusForbidden:
		return MsgAccessDenied
	case http.StatusBadRequest:
		return MsgBadRequest
	case http.StatusNotFound:
		return MsgNotFound
	default:
		return fmt.Sprintf("API request failed (%d). Please try again.", status)
	}
}
