package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sashko-guz/ferry/internal/storage"
)

type envelope map[string]any

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) error {
	js, err := json.Marshal(data)
	if err != nil {
		return err
	}
	js = append(js, '\n')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var maxBytesError *http.MaxBytesError
		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("body must not be larger than %d bytes", maxBytesError.Limit)
		default:
			return err
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}
	return nil
}

func (h *UploadHandler) errorResponse(w http.ResponseWriter, status int, message string) {
	if err := writeJSON(w, status, envelope{"error": message}); err != nil {
		h.logger.Error("failed to write error response", slog.Any("error", err))
	}
}

// statusFor maps provider error kinds to HTTP statuses. The backend cause
// was logged where it happened and is never sent to the client.
func statusFor(err error) int {
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesError):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrBackendWrite),
		errors.Is(err, storage.ErrBackendRead),
		errors.Is(err, storage.ErrBackendDelete),
		errors.Is(err, storage.ErrCredentialIssuance):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *UploadHandler) storageErrorResponse(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := http.StatusText(status)

	var serr *storage.Error
	if errors.As(err, &serr) {
		message = serr.Kind.Error()
	}
	h.errorResponse(w, status, message)
}
