package domain

import "errors"

var (
	// ErrInvalidConfig signals invalid pipeline configuration. Fatal at start, never retried.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrRateLimited signals a provider rate limit. Transient.
	ErrRateLimited = errors.New("rate limited")
	// ErrProviderUnavailable signals a timeout or 5xx from a remote provider. Transient.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrUnauthorized signals an authentication or authorization failure. Permanent.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidRequest signals a malformed request rejected by a provider. Permanent.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPayloadTooLarge signals an oversize request payload. Permanent.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)

// IsTransient reports whether err is worth retrying: rate limits, timeouts
// and provider unavailability. Everything else is treated as permanent.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable)
}
