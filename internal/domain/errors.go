package domain

import "errors"

var (
	// ErrConnectivity marks a store or transport that could not be reached.
	// It aborts a scan but never the process.
	ErrConnectivity = errors.New("connectivity error")
	// ErrChannelUnavailable means a transport session was not ready; the channel
	// is skipped for that recipient only.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrValidation means no usable contact field exists for a recipient.
	ErrValidation = errors.New("validation error")
	// ErrDeliveryFailed means every attempted channel failed for a recipient.
	ErrDeliveryFailed = errors.New("delivery failed on all channels")
	// ErrPartialFailure means the notice went out but some items could not be
	// marked sent; they are picked up again by the next scan.
	ErrPartialFailure = errors.New("partial failure")
	// ErrBreakerOpen is returned while automation is disabled after repeated failures.
	ErrBreakerOpen = errors.New("dispatch breaker open")
	// ErrAlreadyRunning signals that a dispatch run is in flight.
	ErrAlreadyRunning = errors.New("dispatch already running")
)
