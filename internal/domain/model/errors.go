package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidPair     = errors.New("invalid currency pair")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrUnsupportedPair = errors.New("currency pair is not quotable")
	ErrUpstreamFailure = errors.New("upstream rate source failure")
)

type FailureReason string

const (
	ReasonTimeout     FailureReason = "timeout"
	ReasonNetwork     FailureReason = "network"
	ReasonHTTPStatus  FailureReason = "http_status"
	ReasonRateLimited FailureReason = "rate_limited"
	ReasonMalformed   FailureReason = "malformed_response"
	ReasonCircuitOpen FailureReason = "circuit_open"
	ReasonCanceled    FailureReason = "canceled"
	ReasonUnknown     FailureReason = "unknown"
)

// UpstreamError is a transient failure of the rate source. It matches
// ErrUpstreamFailure under errors.Is.
type UpstreamError struct {
	Reason FailureReason
	Err    error
}

func NewUpstreamError(reason FailureReason, err error) *UpstreamError {
	return &UpstreamError{Reason: reason, Err: err}
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", ErrUpstreamFailure, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %v", ErrUpstreamFailure, e.Reason, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstreamFailure}
	}
	return []error{ErrUpstreamFailure, e.Err}
}

// AsUpstreamError normalizes anything a rate source returned into either
// ErrUnsupportedPair or an *UpstreamError.
func AsUpstreamError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnsupportedPair) {
		return err
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewUpstreamError(ReasonTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewUpstreamError(ReasonCanceled, err)
	}
	return NewUpstreamError(ReasonUnknown, err)
}

// FailureReasonOf returns the reason code carried by err, or "" when err is
// not an upstream failure.
func FailureReasonOf(err error) FailureReason {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Reason
	}
	return ""
}
