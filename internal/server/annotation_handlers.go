package server

import (
	"net/http"

	"github.com/MeKo-Tech/lectorium/internal/annotation"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/go-chi/chi/v5"
)

func (s *Server) listAnnotationsHandler(w http.ResponseWriter, r *http.Request) {
	anns := sessionFrom(r).Annotations()
	if anns == nil {
		anns = []model.Annotation{}
	}
	s.writeJSON(w, http.StatusOK, anns)
}

// addAnnotationHandler inserts an annotation; a missing id is generated.
func (s *Server) addAnnotationHandler(w http.ResponseWriter, r *http.Request) {
	var ann model.Annotation
	if err := decodeJSON(w, r, &ann); err != nil {
		s.writeError(w, err)
		return
	}
	added, err := sessionFrom(r).AddAnnotation(r.Context(), ann)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, added)
}

// updateAnnotationHandler replaces an annotation's content. The path id wins
// over the body.
func (s *Server) updateAnnotationHandler(w http.ResponseWriter, r *http.Request) {
	var ann model.Annotation
	if err := decodeJSON(w, r, &ann); err != nil {
		s.writeError(w, err)
		return
	}
	ann.ID = chi.URLParam(r, "annID")
	updated, err := sessionFrom(r).UpdateAnnotation(r.Context(), ann)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) removeAnnotationHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id := chi.URLParam(r, "annID")
	ann, ok := sess.Annotation(id)
	if !ok {
		s.writeError(w, annotation.ErrNotFound)
		return
	}
	if err := sess.RemoveAnnotation(r.Context(), ann); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// syncHandler pushes queued cloud changes.
func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	pushed, err := sessionFrom(r).RetrySync(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SyncResponse{Pushed: pushed})
}
