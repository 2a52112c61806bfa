// Package apperr defines the closed error taxonomy used at every remote-port
// boundary, plus the declarative retry policy consumed by the request
// clients. No raw error or response object may cross a port boundary: ports
// classify every failure into exactly one category before returning it.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/pubsync/pubsync/internal/logging"
)

// Category is the top-level classification of a failure.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryServer     Category = "server"
	CategoryClient     Category = "client"
	CategoryAuth       Category = "auth"
	CategoryRateLimit  Category = "rate_limit"
	CategoryValidation Category = "validation"
	CategoryDatabase   Category = "database"
)

// Code identifies a specific failure within its category.
type Code string

const (
	// Network
	CodeConnectionFailed Code = "CONNECTION_FAILED"
	CodeDNSFailure       Code = "DNS_FAILURE"

	// Timeout
	CodeRequestTimeout Code = "REQUEST_TIMEOUT"

	// Server
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeBadGateway         Code = "BAD_GATEWAY"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeInvalidResponse    Code = "INVALID_RESPONSE"

	// Client
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeBadRequest      Code = "BAD_REQUEST"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	CodeGone            Code = "GONE"
	CodeUnprocessable   Code = "UNPROCESSABLE"

	// Auth
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeTokenExpired Code = "TOKEN_EXPIRED"

	// RateLimit
	CodeTooManyRequests Code = "TOO_MANY_REQUESTS"

	// Validation
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeMissingField Code = "MISSING_FIELD"

	// Database
	CodeQueryFailed         Code = "QUERY_FAILED"
	CodeMigrationFailed     Code = "MIGRATION_FAILED"
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"
)

// Error is the typed failure that crosses port boundaries. Match it with
// errors.As; the wrapped Cause stays reachable through Unwrap.
type Error struct {
	Category  Category
	Code      Code
	Service   string
	Operation string
	Context   map[string]any
	Cause     error
	TraceID   string

	// Status is the originating HTTP status, 0 when not HTTP-derived.
	Status int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s.%s: %v", e.Category, e.Code, e.Service, e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s.%s", e.Category, e.Code, e.Service, e.Operation)
}

func (e *Error) Unwrap() error { return e.Cause }

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// IsNotFound reports whether err is a classified NOT_FOUND. Ports surface
// HTTP 404 through this so callers can branch on first-session semantics.
func IsNotFound(err error) bool {
	ae, ok := As(err)
	return ok && ae.Code == CodeNotFound
}

// Factory constructs classified errors for one service. Every construction
// is logged synchronously at a severity derived from the category.
type Factory struct {
	service string
	log     logging.Logger
}

func NewFactory(service string, log logging.Logger) *Factory {
	return &Factory{service: service, log: log}
}

// New builds and logs a classified error.
func (f *Factory) New(cat Category, code Code, operation string, cause error) *Error {
	e := &Error{
		Category:  cat,
		Code:      code,
		Service:   f.service,
		Operation: operation,
		Cause:     cause,
		TraceID:   uuid.NewString(),
	}
	f.logError(e)
	return e
}

// WithContext attaches a key/value pair and returns the same error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	e.Context[key] = value
	return e
}

// FromHTTPStatus classifies a non-2xx HTTP status.
func (f *Factory) FromHTTPStatus(status int, operation string, cause error) *Error {
	cat, code := classifyStatus(status)
	e := f.New(cat, code, operation, cause)
	e.Status = status
	return e
}

// FromTransport classifies a failure from the HTTP transport itself
// (connection refused, DNS, deadline) rather than a response status.
func (f *Factory) FromTransport(operation string, cause error) *Error {
	var netErr net.Error
	if errors.Is(cause, context.DeadlineExceeded) ||
		(errors.As(cause, &netErr) && netErr.Timeout()) {
		return f.New(CategoryTimeout, CodeRequestTimeout, operation, cause)
	}
	var dnsErr *net.DNSError
	if errors.As(cause, &dnsErr) {
		return f.New(CategoryNetwork, CodeDNSFailure, operation, cause)
	}
	return f.New(CategoryNetwork, CodeConnectionFailed, operation, cause)
}

func classifyStatus(status int) (Category, Code) {
	switch status {
	case http.StatusBadRequest:
		return CategoryClient, CodeBadRequest
	case http.StatusUnauthorized:
		return CategoryAuth, CodeUnauthorized
	case http.StatusForbidden:
		return CategoryAuth, CodeForbidden
	case http.StatusNotFound:
		return CategoryClient, CodeNotFound
	case http.StatusRequestTimeout:
		return CategoryTimeout, CodeRequestTimeout
	case http.StatusConflict:
		return CategoryClient, CodeConflict
	case http.StatusGone:
		return CategoryClient, CodeGone
	case http.StatusRequestEntityTooLarge:
		return CategoryClient, CodePayloadTooLarge
	case http.StatusUnprocessableEntity:
		return CategoryClient, CodeUnprocessable
	case http.StatusTooManyRequests:
		return CategoryRateLimit, CodeTooManyRequests
	case http.StatusBadGateway:
		return CategoryServer, CodeBadGateway
	case http.StatusServiceUnavailable:
		return CategoryServer, CodeServiceUnavailable
	}
	switch {
	case status >= 500:
		return CategoryServer, CodeInternalError
	case status >= 400:
		return CategoryClient, CodeBadRequest
	}
	return CategoryServer, CodeInvalidResponse
}

func (f *Factory) logError(e *Error) {
	if f.log == nil {
		return
	}
	args := []any{
		"category", string(e.Category),
		"code", string(e.Code),
		"operation", e.Operation,
		"trace_id", e.TraceID,
		"error", e.Cause,
	}
	ctx := context.Background()
	switch e.Category {
	case CategoryServer, CategoryNetwork, CategoryTimeout, CategoryDatabase:
		f.log.Error(ctx, "remote operation failed", args...)
	case CategoryAuth, CategoryRateLimit, CategoryClient:
		f.log.Warn(ctx, "remote operation rejected", args...)
	default:
		f.log.Info(ctx, "request rejected", args...)
	}
}
