package exchange

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrRateLimited and ErrTransient are retriable.
	ErrRateLimited = errors.New("rate limited")
	ErrTransient   = errors.New("transient exchange error")
	// ErrRejected is a definitive refusal (bad params, insufficient margin).
	ErrRejected = errors.New("order rejected")
)

type Class int

const (
	ClassNone Class = iota
	ClassRetriable
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRetriable:
		return "retriable"
	default:
		return "fatal"
	}
}

// Classify sorts err into retriable or fatal. Timeouts and network errors
// are retriable; a cancelled context is fatal so the caller stops.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	switch {
	case errors.Is(err, ErrRejected):
		return ClassFatal
	case errors.Is(err, context.Canceled):
		return ClassFatal
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTransient):
		return ClassRetriable
	case errors.Is(err, context.DeadlineExceeded):
		return ClassRetriable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetriable
	}
	return ClassFatal
}
