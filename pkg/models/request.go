package models

import "time"

// Mode selects what the user wants done with the selected text.
type Mode string

const (
	ModeExplain Mode = "explain"
	ModeAnswer  Mode = "answer"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeExplain || m == ModeAnswer
}

// Request is an inbound explain/answer request from the extension.
type Request struct {
	Mode Mode   `json:"mode"`
	Text string `json:"text"`
}

// State is the terminal state a request reached in the pipeline.
type State string

const (
	StateFallback State = "fallback"
	StateCached   State = "cached"
	StateRespond  State = "respond"
	StateErrored  State = "errored"
)

// QuotaInfo describes remaining daily quota attached to a response.
type QuotaInfo struct {
	Remaining   int  `json:"remaining"`
	Total       int  `json:"total"`
	ShowWarning bool `json:"showWarning,omitempty"`
	Exhausted   bool `json:"exhausted,omitempty"`
}

// Result is a successful pipeline outcome sent to the UI collaborator.
// Failures are returned as errors instead.
type Result struct {
	Response  string     `json:"response"`
	Cached    bool       `json:"cached"`
	Fallback  bool       `json:"fallback,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
	QuotaInfo *QuotaInfo `json:"quotaInfo,omitempty"`

	State State `json:"-"`
}

// ErrorResult is the wire shape of a failed request.
type ErrorResult struct {
	Error string `json:"error"`
}

// TimestampLayout is ISO 8601 with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t the way results carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
