package storage

import (
	"errors"
	"fmt"
	"log/slog"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrConfiguration      = errors.New("invalid storage configuration")
	ErrBackendWrite       = errors.New("backend write failed")
	ErrBackendRead        = errors.New("backend read failed")
	ErrBackendDelete      = errors.New("backend delete failed")
	ErrCredentialIssuance = errors.New("credential issuance failed")
	ErrKeyGeneration      = errors.New("key generation failed")
	ErrInvalidKey         = errors.New("invalid object key")
)

// Operation names used in errors and log records
const (
	OpUpload     = "upload"
	OpDelete     = "delete"
	OpCredential = "credential"
	OpFetch      = "fetch"
)

// Error is the opaque failure handed to callers of a Provider.
// Unwrap exposes only Kind; the backend cause stays in Cause for logging
// and is never reachable through errors.As.
type Error struct {
	Kind    error
	Backend UploadType
	Op      string
	Key     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s: %v (backend=%s, key=%s)", e.Op, e.Kind, e.Backend, e.Key)
	}
	return fmt.Sprintf("storage %s: %v (backend=%s)", e.Op, e.Kind, e.Backend)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Fail logs a backend failure with full context and returns the opaque error
// that crosses the provider boundary.
func Fail(logger *slog.Logger, kind error, backend UploadType, op, key string, cause error) *Error {
	attrs := []any{
		slog.String("backend", string(backend)),
		slog.String("op", op),
	}
	if key != "" {
		attrs = append(attrs, slog.String("key", key))
	}
	if cause != nil {
		attrs = append(attrs, slog.Any("error", cause))
	}
	logger.Error(kind.Error(), attrs...)

	return &Error{
		Kind:    kind,
		Backend: backend,
		Op:      op,
		Key:     key,
		Cause:   cause,
	}
}
