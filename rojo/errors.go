package rojo

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable covers refused connections, resets and timeouts.
	ErrUnreachable = errors.New("rojo server unreachable")
	// ErrBadStatus is returned for any non-2xx reply.
	ErrBadStatus = errors.New("unexpected status from rojo server")
	// ErrMalformedResponse is returned when a reply body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response from rojo server")
	// ErrNoInstanceList means the server answered a read without an instance map.
	ErrNoInstanceList = errors.New("no instance list received from /api/read/{instanceId}")
	// ErrInstanceNotFound means the instance map did not contain the requested id.
	ErrInstanceNotFound = errors.New("instance not present in read response")
)

// RequestError describes a failed call against the Rojo API.
type RequestError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("rojo %s %s: status %d: %v", e.Op, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("rojo %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
