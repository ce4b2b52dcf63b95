package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common error conditions.
// Typed errors below match them through errors.Is.
var (
	// ErrConfiguration is returned when credentials or model settings are missing or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport is returned when a connection cannot be established or is interrupted.
	ErrTransport = errors.New("transport error")

	// ErrVendor is returned when an upstream API rejects a request.
	ErrVendor = errors.New("vendor error")

	// ErrDimensionMismatch is returned when an embedding has the wrong length for an index.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUnknownModel is returned when a logical model id is not configured.
	ErrUnknownModel = errors.New("unknown model")

	// ErrEmbeddingUnavailable is returned when an embedding backend cannot be loaded or used.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrCancelled is returned when the caller cancels an operation.
	// It is a signal, not a failure.
	ErrCancelled = errors.New("operation cancelled")

	// ErrInvalidConversation is returned for empty conversations or unknown roles.
	ErrInvalidConversation = errors.New("invalid conversation")

	// ErrInvalidDocument is returned for documents without an id or a usable embedding.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("not found")
)

// ConfigurationError reports missing or invalid provider configuration.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Provider == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// TransportError reports a network failure, including deadline expiry.
type TransportError struct {
	Provider string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString("transport error")
	if e.Timeout {
		b.WriteString(" (timeout)")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// VendorError is an API-level rejection surfaced verbatim from the vendor.
type VendorError struct {
	Provider   string
	StatusCode int    // HTTP status, 0 when the error arrived inside a stream
	Code       string // vendor error code or type, e.g. "invalid_request_error"
	Message    string
}

func (e *VendorError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString("vendor error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *VendorError) Is(target error) bool { return target == ErrVendor }

// DimensionMismatchError reports an embedding whose length differs from the index dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
	ID       string // offending document, empty for queries
}

func (e *DimensionMismatchError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("dimension mismatch for document %s: expected %d, got %d", e.ID, e.Expected, e.Got)
	}
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// UnknownModelError reports a model id the router does not know.
type UnknownModelError struct {
	Kind      string // "completion" or "embedding"
	Model     string
	Available []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown %s model: %q (available: %v)", e.Kind, e.Model, e.Available)
}

func (e *UnknownModelError) Is(target error) bool { return target == ErrUnknownModel }

// EmbeddingUnavailableError reports an embedding backend that could not be loaded or called.
type EmbeddingUnavailableError struct {
	Provider string
	Err      error
}

func (e *EmbeddingUnavailableError) Error() string {
	if e.Err == nil {
		return e.Provider + ": embedding unavailable"
	}
	return fmt.Sprintf("%s: embedding unavailable: %v", e.Provider, e.Err)
}

func (e *EmbeddingUnavailableError) Is(target error) bool { return target == ErrEmbeddingUnavailable }

func (e *EmbeddingUnavailableError) Unwrap() error { return e.Err }
