package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// UnavailableMessage is what callers show when every provider is exhausted
const UnavailableMessage = "I apologize, I'm having trouble connecting."

// ErrorKind classifies provider failures
type ErrorKind string

const (
	KindTransport      ErrorKind = "transport"
	KindRateLimited    ErrorKind = "rate_limited"
	KindAuth           ErrorKind = "auth"
	KindMalformed      ErrorKind = "malformed_response"
	KindQuotaExhausted ErrorKind = "quota_exhausted"
)

var (
	// ErrQuotaExhausted is matched by any ProviderError of kind KindQuotaExhausted
	ErrQuotaExhausted = errors.New("provider quota exhausted")

	// ErrAllProvidersExhausted is the router's only failure mode
	ErrAllProvidersExhausted = errors.New("all AI providers exhausted")

	ErrUnknownModel    = errors.New("unknown model")
	ErrUnknownProvider = errors.New("unknown provider")
)

// ProviderError is returned by adapters
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrQuotaExhausted) see quota errors
func (e *ProviderError) Is(target error) bool {
	return target == ErrQuotaExhausted && e.Kind == KindQuotaExhausted
}

// NewProviderError creates a ProviderError
func NewProviderError(provider string, kind ErrorKind, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// IsRateLimited reports whether err signals an upstream rate limit
func IsRateLimited(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind == KindRateLimited
	}
	return false
}

// ExhaustedError is returned when no provider produced a response
type ExhaustedError struct {
	Attempted    []string
	LastProvider string
	LastErr      error
}

func (e *ExhaustedError) Error() string {
	if e.LastErr == nil {
		return ErrAllProvidersExhausted.Error() + ": no provider had quota"
	}
	return fmt.Sprintf("%s. Last error (%s): %v", ErrAllProvidersExhausted, e.LastProvider, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// classifyError maps an upstream failure to a ProviderError
func classifyError(provider string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(provider, KindTransport, 0, "", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError(provider, kindForStatus(apiErr.HTTPStatusCode, apiErr.Message), apiErr.HTTPStatusCode, "", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError(provider, kindForStatus(reqErr.HTTPStatusCode, reqErr.Error()), reqErr.HTTPStatusCode, "", err)
	}

	return NewProviderError(provider, kindForStatus(0, err.Error()), 0, "", err)
}

// kindForStatus follows the upstream conventions: 429 or a "rate" message means rotate
func kindForStatus(status int, msg string) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") || strings.Contains(lower, "429") {
		return KindRateLimited
	}
	return KindTransport
}
