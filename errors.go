package voicecore

import "fmt"

// ErrorKind names a failure kind rather than a Go error type, per spec.md
// §7's error taxonomy. The public start() rejects with one of these; all
// other public methods are infallible from the caller's perspective.
type ErrorKind string

const (
	ErrMicDenied              ErrorKind = "mic_denied"
	ErrSessionHTTP            ErrorKind = "session_http"
	ErrTokenHTTP              ErrorKind = "token_http"
	ErrSDPHTTP                ErrorKind = "sdp_http"
	ErrICEFailed              ErrorKind = "ice_failed"
	ErrDataChannelClosedEarly ErrorKind = "datachannel_closed_early"
	ErrAlreadyStarting        ErrorKind = "already_starting"
	ErrCancelled              ErrorKind = "cancelled"
)

// StartError is returned by Controller.Start when the orchestrator fails
// to reach CONNECTED.
type StartError struct {
	Kind   ErrorKind
	Status int
	Detail string
}

func (e *StartError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

// httpErrorKind maps a failing call name to its typed HTTP error kind,
// with the status appended per spec.md §4.1's failure model
// (session_http_<status>, token_http_<status>, sdp_http_<status>).
func httpErrorKind(base ErrorKind, status int, detail string) *StartError {
	kind := base
	if status != 0 {
		kind = ErrorKind(fmt.Sprintf("%s_%d", base, status))
	}
	return &StartError{Kind: kind, Status: status, Detail: detail}
}
