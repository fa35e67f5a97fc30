// Package delivery defines the Provider interface for forwarding a finished
// transcript to a remote endpoint.
//
// A provider makes exactly one attempt per call. A remote that answered but
// refused the payload is reported as a [*RejectedError]; any other error
// means the payload never reached the remote (connection refused, timeout,
// DNS failure).
package delivery

import (
	"context"
	"fmt"
)

// Payload is the JSON document sent to every endpoint.
type Payload struct {
	Transcript string `json:"transcript"`
}

// RejectedError reports that the remote received the request and answered
// with a non-success status.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("delivery: rejected by remote with status %d", e.StatusCode)
	}
	return fmt.Sprintf("delivery: rejected by remote with status %d: %s", e.StatusCode, e.Body)
}

// Provider sends transcript text to an endpoint.
type Provider interface {
	// Deliver sends text to endpoint once. It returns nil on success, a
	// [*RejectedError] when the remote refused it, or a transport error.
	Deliver(ctx context.Context, endpoint, text string) error
}
