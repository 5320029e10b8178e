package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind classifies why a connection attempt did not produce a session.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureParse
	FailureAuthRejected
	FailureHostUnreachable
	FailureUserCancelled
)

func (k FailureKind) String() string {
	switch k {
	case FailureParse:
		return "parse error"
	case FailureAuthRejected:
		return "authentication rejected"
	case FailureHostUnreachable:
		return "host unreachable"
	case FailureUserCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// ErrPromptCancelled is returned by a PromptSink when the user abandons a prompt.
var ErrPromptCancelled = errors.New("prompt cancelled")

// ErrHostKeyRejected is returned when the user declines an unknown host key.
var ErrHostKeyRejected = errors.New("host key not accepted")

// ConnectError is the structured failure of a connection attempt.
type ConnectError struct {
	Kind FailureKind
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Host, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Host, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// FailureKindOf maps any error returned by a Connector to its FailureKind.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return FailureOther
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return FailureParse
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrPromptCancelled) || errors.Is(err, ErrHostKeyRejected) {
		return FailureUserCancelled
	}
	return FailureOther
}

// classifyConnectErr wraps a dial or handshake error into a ConnectError.
func classifyConnectErr(ctx context.Context, host string, err error) *ConnectError {
	ce := &ConnectError{Host: host, Err: err, Kind: FailureOther}
	msg := err.Error()

	switch {
	case ctx.Err() != nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrPromptCancelled),
		errors.Is(err, ErrHostKeyRejected),
		// x/crypto/ssh does not always wrap callback errors with %w.
		strings.Contains(msg, ErrPromptCancelled.Error()),
		strings.Contains(msg, ErrHostKeyRejected.Error()):
		ce.Kind = FailureUserCancelled
		return ce
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		ce.Kind = FailureHostUnreachable
	case errors.As(err, &opErr) && opErr.Op == "dial":
		ce.Kind = FailureHostUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		ce.Kind = FailureHostUnreachable
	case strings.Contains(msg, "unable to authenticate"):
		ce.Kind = FailureAuthRejected
	}
	return ce
}
