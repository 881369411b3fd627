package server

import (
	"errors"
	"image"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/lectorium/internal/render"
	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/disintegration/imaging"
)

// ZoomRequest sets the zoom factor used for scroll layout.
type ZoomRequest struct {
	Zoom float64 `json:"zoom"`
}

// saveHandler burns pending work into the binary. ?as=<id> writes a copy.
func (s *Server) saveHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	var (
		res session.SaveResult
		err error
	)
	if target := r.URL.Query().Get("as"); target != "" {
		res, err = sess.SaveAs(r.Context(), target)
	} else {
		res, err = sess.Save(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) conflictHandler(w http.ResponseWriter, r *http.Request) {
	c, opts := sessionFrom(r).Conflict()
	s.writeJSON(w, http.StatusOK, ConflictResponse{Conflict: c, Options: opts})
}

// resolveConflictHandler applies one of the offered conflict actions.
func (s *Server) resolveConflictHandler(w http.ResponseWriter, r *http.Request) {
	var req ConflictRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	action, err := parseConflictAction(req.Action)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess := sessionFrom(r)
	res, err := sess.ResolveConflict(r.Context(), action)
	if err != nil {
		s.writeError(w, err)
		return
	}
	slog.Info("Conflict resolved", "file_id", sess.ID(), "action", action)
	s.writeJSON(w, http.StatusOK, res)
}

// scrollHandler returns the pages to mount for ?offset and ?viewport.
func (s *Server) scrollHandler(w http.ResponseWriter, r *http.Request) {
	offset, err := floatQuery(r, "offset", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	viewport, err := floatQuery(r, "viewport", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if offset < 0 || viewport < 0 {
		s.writeError(w, badRequest("offset and viewport must not be negative"))
		return
	}
	rng := sessionFrom(r).HandleScroll(r.Context(), offset, viewport)
	s.writeJSON(w, http.StatusOK, ScrollResponse{Range: rng, Offset: offset})
}

func (s *Server) zoomHandler(w http.ResponseWriter, r *http.Request) {
	var req ZoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := sessionFrom(r).SetZoom(req.Zoom); err != nil {
		s.writeError(w, badRequest(err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pageImageHandler renders a page as PNG at ?scale (default 1).
func (s *Server) pageImageHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	page, err := intParam(r, "page")
	if err != nil {
		s.writeError(w, err)
		return
	}
	scale, err := floatQuery(r, "scale", 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if scale <= 0 || scale > 8 {
		s.writeError(w, badRequest("scale must be in (0, 8]"))
		return
	}

	var placeholder bool
	frame, err := sess.Render(r.Context(), page, scale, render.SurfaceFunc(func(_ image.Image, p bool) {
		placeholder = p
	}))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if frame.Image == nil {
		// superseded by a newer render of the same page
		s.writeError(w, render.ErrRasterizationCancelled)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if frame.CacheHit {
		w.Header().Set("X-Render-Cache", "hit")
	}
	if placeholder || frame.UsedPlaceholder {
		w.Header().Set("X-Render-Placeholder", "true")
	}
	if err := imaging.Encode(w, frame.Image, imaging.PNG); err != nil {
		slog.Debug("Failed to encode page image", "file_id", sess.ID(), "page", page, "error", err)
	}
}

// textLayerHandler returns the reconstructed word spans of a page.
func (s *Server) textLayerHandler(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page")
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := sessionFrom(r).TextLayer(r.Context(), page)
	if err != nil {
		if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
