package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/annotation"
	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/cloud"
	"github.com/MeKo-Tech/lectorium/internal/integrity"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/ocr"
	"github.com/MeKo-Tech/lectorium/internal/render"
	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/MeKo-Tech/lectorium/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxJSONBody = 1 << 20

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Time:      s.now().UTC().Format(time.RFC3339),
		Documents: len(s.manager.List()),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// listDocumentsHandler lists the open documents.
func (s *Server) listDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.List())
}

// openDocumentHandler opens a document either from a multipart upload
// (fields file, id, name) or, for JSON bodies, from the document source.
func (s *Server) openDocumentHandler(w http.ResponseWriter, r *http.Request) {
	doc, source, err := s.parseOpenRequest(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := s.manager.Open(r.Context(), doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	documentsOpenedTotal.WithLabelValues(source).Inc()
	slog.Info("Document opened", "file_id", doc.ID, "source", source, "bytes", len(doc.Data))

	c, opts := sess.Conflict()
	s.writeJSON(w, http.StatusCreated, DocumentResponse{Info: sess.Info(), Options: opts})
	if c.Conflicting {
		slog.Info("Opened document has a conflict", "file_id", doc.ID, "severity", c.Severity)
	}
}

func (s *Server) parseOpenRequest(w http.ResponseWriter, r *http.Request) (model.Document, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		doc, err := s.parseUpload(w, r)
		return doc, "upload", err
	}

	var req OpenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return model.Document{}, "", err
	}
	if req.ID == "" {
		return model.Document{}, "", badRequest("id is required")
	}
	if s.source == nil {
		return model.Document{}, "", badRequest("no document store configured, upload the file instead")
	}
	data, err := s.source.Read(req.ID)
	if err != nil {
		return model.Document{}, "", &httpError{status: http.StatusNotFound, msg: fmt.Sprintf("document %s: %v", req.ID, err)}
	}
	return model.Document{ID: req.ID, Name: req.Name, Data: data}, "store", nil
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (model.Document, error) {
	limit := s.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return model.Document{}, &httpError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("file exceeds %d MB", s.maxUploadMB)}
		}
		return model.Document{}, badRequest("invalid multipart form: " + err.Error())
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return model.Document{}, badRequest("missing file field")
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return model.Document{}, badRequest("failed to read upload: " + err.Error())
	}
	uploadSizeBytes.Observe(float64(len(data)))

	id := r.FormValue("id")
	if id == "" {
		id = uuid.NewString()
	}
	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	return model.Document{ID: id, Name: name, Data: data}, nil
}

// documentHandler describes one open document.
func (s *Server) documentHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	_, opts := sess.Conflict()
	s.writeJSON(w, http.StatusOK, DocumentResponse{Info: sess.Info(), Options: opts})
}

// closeDocumentHandler closes a document.
func (s *Server) closeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Close(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileHandler streams the current binary.
func (s *Server) fileHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	data := sess.Data()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if name := sess.Info().Name; name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	}
	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write document", "file_id", sess.ID(), "error", err)
	}
}

// httpError carries a status for request-level failures.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &httpError{status: http.StatusBadRequest, msg: msg}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, badRequest(fmt.Sprintf("invalid %s %q", name, chi.URLParam(r, name)))
	}
	return v, nil
}

func floatQuery(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, badRequest(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return v, nil
}

// statusFor maps engine errors to HTTP statuses and remedies.
func statusFor(err error) (int, string) {
	var he *httpError
	var se *ocr.ServiceError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &he):
		return he.status, ""
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, ""
	case errors.Is(err, ocr.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "retry-later"
	case errors.As(err, &se):
		if se.Retryable() {
			return http.StatusBadGateway, "retry"
		}
		return http.StatusBadGateway, ""
	case errors.Is(err, ocr.ErrRefinementMismatch):
		return http.StatusBadGateway, "retry"
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden, "save-as"
	case errors.Is(err, session.ErrPageRange),
		errors.Is(err, model.ErrInvalidAnnotation),
		errors.Is(err, ocr.ErrWordIndex),
		errors.Is(err, ocr.ErrBatchTooLarge):
		return http.StatusBadRequest, ""
	case errors.Is(err, ocr.ErrNotRecognized),
		errors.Is(err, annotation.ErrNotFound):
		return http.StatusNotFound, ""
	case errors.Is(err, annotation.ErrBurnedImmutable),
		errors.Is(err, annotation.ErrDuplicateID),
		errors.Is(err, session.ErrNoConflict),
		errors.Is(err, session.ErrActionNotAllowed),
		errors.Is(err, session.ErrClosed):
		return http.StatusConflict, ""
	case errors.Is(err, cloud.ErrOffline):
		return http.StatusServiceUnavailable, "retry"
	case errors.Is(err, ocr.ErrServiceUnavailable),
		errors.Is(err, session.ErrNoRasterizer),
		errors.Is(err, session.ErrNoRecognizer),
		errors.Is(err, render.ErrRasterizationCancelled):
		return http.StatusServiceUnavailable, ""
	case errors.Is(err, burner.ErrBurnFailed):
		return http.StatusUnprocessableEntity, ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "retry"
	default:
		return http.StatusInternalServerError, ""
	}
}

// writeError writes err with the status statusFor derives.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, remedy := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "error", err)
	} else {
		slog.Debug("Request rejected", "status", status, "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Remedy: remedy})
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// the status is already sent
		slog.Debug("Failed to encode response", "error", err)
	}
}

func parseConflictAction(raw string) (integrity.Action, error) {
	a, err := integrity.ParseAction(raw)
	if err != nil {
		return "", badRequest(err.Error())
	}
	return a, nil
}
