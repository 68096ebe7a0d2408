package remote

import "errors"

var (
	// ErrUnknownFunction is returned by HTTPTransport for a function with no
	// configured endpoint.
	ErrUnknownFunction = errors.New("remote: unknown function")

	// ErrDecodeResponse is returned by Call when the response is not valid
	// JSON for the requested type.
	ErrDecodeResponse = errors.New("remote: decode response")
)
