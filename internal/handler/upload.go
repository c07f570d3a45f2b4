package handler

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"runtime"

	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/sashko-guz/ferry/internal/upload"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

type UploadHandler struct {
	svc            *upload.Service
	maxUploadBytes int64
	uploadSem      chan struct{}
	logger         *slog.Logger
}

// NewUploadHandler builds the handler. maxConcurrent bounds uploads in
// flight; zero picks a default from the CPU count.
func NewUploadHandler(svc *upload.Service, maxUploadBytes int64, maxConcurrent int, logger *slog.Logger) *UploadHandler {
	if maxConcurrent <= 0 {
		// uploads are I/O bound: 4x CPU cores, capped at 64
		maxConcurrent = min(runtime.NumCPU()*4, 64)
	}
	logger.Info("upload handler configured",
		slog.String("upload_type", string(svc.Type())),
		slog.Int("max_concurrent", maxConcurrent),
		slog.Int64("max_upload_mb", maxUploadBytes>>20),
	)

	return &UploadHandler{
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
		uploadSem:      make(chan struct{}, maxConcurrent),
		logger:         logger,
	}
}

// ServerURL handles GET /upload/server-url
func (h *UploadHandler) ServerURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		"uploadType": h.svc.Type(),
		"serverUrl":  h.svc.ServerURL(),
	})
}

// Credential handles GET /upload/credential
func (h *UploadHandler) Credential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.svc.UploadCredential(r.Context())
	if err != nil {
		h.storageErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// Upload handles POST /upload with a multipart "file" field.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	select {
	case h.uploadSem <- struct{}{}:
		defer func() { <-h.uploadSem }()
	case <-r.Context().Done():
		h.errorResponse(w, http.StatusServiceUnavailable, "request cancelled while waiting for an upload slot")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			h.errorResponse(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		h.errorResponse(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, `missing multipart field "file"`)
		return
	}
	defer file.Close()

	res, err := h.svc.Upload(r.Context(), header.Filename, file, partSize(header))
	if err != nil {
		h.storageErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func partSize(header *multipart.FileHeader) int64 {
	if header.Size > 0 {
		return header.Size
	}
	return -1
}

type deleteRequest struct {
	Keys []string `json:"keys"`
}

type deleteOutcome struct {
	Key   string `json:"key"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Delete handles DELETE /upload with {"keys": [...]}. The body always lists
// one outcome per distinct key.
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := readJSON(w, r, &req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.svc.DeleteDetailed(r.Context(), req.Keys)

	outcomes := make([]deleteOutcome, len(result))
	onlyInvalid := true
	for i, o := range result {
		outcomes[i] = deleteOutcome{Key: o.Key, OK: o.Err == nil}
		if o.Err == nil {
			continue
		}
		if !errors.Is(o.Err, storage.ErrInvalidKey) {
			onlyInvalid = false
		}
		var serr *storage.Error
		if errors.As(o.Err, &serr) {
			outcomes[i].Error = serr.Kind.Error()
		} else {
			outcomes[i].Error = http.StatusText(http.StatusInternalServerError)
		}
	}

	status := http.StatusOK
	switch {
	case result.OK():
	case onlyInvalid:
		status = http.StatusBadRequest
	default:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, envelope{"ok": result.OK(), "results": outcomes})
}
