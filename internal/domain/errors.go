package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamAuth      = errors.New("upstream auth failed")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUpstreamServer    = errors.New("upstream server error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrInternal          = errors.New("internal error")
)

// ErrorKind classifies a failure for retry decisions.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTimeout
	KindRateLimited
	KindAuth
	KindServer
	KindMalformed
	KindInput
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth_error"
	case KindServer:
		return "server_error"
	case KindMalformed:
		return "malformed"
	case KindInput:
		return "input_error"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Outcome maps a kind onto the attempt log vocabulary.
func (k ErrorKind) Outcome() AttemptOutcome {
	switch k {
	case KindNone:
		return OutcomeSuccess
	case KindTimeout, KindCanceled:
		return OutcomeTimeout
	case KindRateLimited:
		return OutcomeRateLimited
	case KindAuth:
		return OutcomeAuthError
	case KindMalformed:
		return OutcomeMalformed
	default:
		return OutcomeServerError
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrUpstreamTimeout
	case KindRateLimited:
		return ErrUpstreamRateLimit
	case KindAuth:
		return ErrUpstreamAuth
	case KindMalformed:
		return ErrMalformedResponse
	case KindInput:
		return ErrInvalidArgument
	case KindCanceled:
		return context.Canceled
	default:
		return ErrUpstreamServer
	}
}

// ProviderError is a classified failure of a single provider call.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider %s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *ProviderError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// NewProviderError builds a ProviderError of the given kind.
func NewProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// ProviderErrorFromStatus classifies a non-2xx HTTP response.
func ProviderErrorFromStatus(provider string, status int, retryAfter time.Duration, body string) *ProviderError {
	var kind ErrorKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	default:
		kind = KindServer
	}
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: status,
		RetryAfter: retryAfter,
		Err:        fmt.Errorf("http %d: %s", status, body),
	}
}

// ParseRetryAfter reads a Retry-After header given either as seconds or an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// InputError reports a request that can never be analyzed.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidArgument }

// MalformedResponseError is returned when no parsing stage recovered a JSON object.
type MalformedResponseError struct {
	Stages  []ParseStage
	Snippet string
}

func (e *MalformedResponseError) Error() string {
	names := make([]string, len(e.Stages))
	for i, s := range e.Stages {
		names[i] = string(s)
	}
	return fmt.Sprintf("malformed response after stages [%s]: %q", strings.Join(names, ","), e.Snippet)
}

func (e *MalformedResponseError) Unwrap() error { return ErrMalformedResponse }

// SchemaError reports a response or result that does not satisfy the analysis schema.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return "schema invalid: " + e.Reason }

func (e *SchemaError) Unwrap() error { return ErrSchemaInvalid }

// ClassifyError maps any error returned by a provider call or a parse step onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return KindInput
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrSchemaInvalid):
		return KindMalformed
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrUpstreamTimeout):
		return KindTimeout
	case errors.Is(err, ErrUpstreamRateLimit), errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUpstreamAuth):
		return KindAuth
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindServer
}

// RetryAfterOf returns the provider's retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
