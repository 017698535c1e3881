package completion

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable indicates a network or timeout failure reaching the upstream API.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UpstreamError is an error reported by the upstream API.
type UpstreamError struct {
	Status  int
	Type    string
	Message string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("upstream error [%s] (HTTP %d): %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Message)
}
