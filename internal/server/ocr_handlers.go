package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/ocr"
)

// scheduleOCRHandler queues recognition of a page. With ?wait=true it
// blocks until the words are available.
func (s *Server) scheduleOCRHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	page, err := intParam(r, "page")
	if err != nil {
		s.writeError(w, err)
		return
	}
	priority, err := model.ParsePriority(r.URL.Query().Get("priority"))
	if err != nil {
		s.writeError(w, badRequest(err.Error()))
		return
	}

	ticket, err := sess.ScheduleOcr(r.Context(), page, priority)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		s.writeJSON(w, http.StatusAccepted, OCRResponse{Page: page, Status: string(sess.OcrStatus(page))})
		return
	}

	words, err := ticket.Wait(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OCRResponse{Page: page, Status: string(model.StatusDone), Words: words})
}

// wordsHandler returns the recognized words of a page.
func (s *Server) wordsHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	page, err := intParam(r, "page")
	if err != nil {
		s.writeError(w, err)
		return
	}
	words, _ := sess.Words(page)
	s.writeJSON(w, http.StatusOK, OCRResponse{Page: page, Status: string(sess.OcrStatus(page)), Words: words})
}

// refineHandler runs the language service over a recognized page.
func (s *Server) refineHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	page, err := intParam(r, "page")
	if err != nil {
		s.writeError(w, err)
		return
	}
	words, err := sess.RefinePage(r.Context(), page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OCRResponse{Page: page, Status: string(model.StatusDone), Words: words})
}

// lowConfidenceHandler lists words below ?threshold.
func (s *Server) lowConfidenceHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	page, err := intParam(r, "page")
	if err != nil {
		s.writeError(w, err)
		return
	}
	threshold, err := floatQuery(r, "threshold", ocr.DefaultReviewThreshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	words := sess.LowConfidence(page, threshold)
	if words == nil {
		words = []ocr.IndexedWord{}
	}
	s.writeJSON(w, http.StatusOK, words)
}

// correctWordHandler replaces one recognized word.
func (s *Server) correctWordHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	page, err := intParam(r, "page")
	if err != nil {
		s.writeError(w, err)
		return
	}
	index, err := intParam(r, "index")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req CorrectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Text == "" {
		s.writeError(w, badRequest("text is required"))
		return
	}

	word, err := sess.CorrectWord(r.Context(), page, index, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ocr.IndexedWord{Index: index, Word: word})
}

// unburntHandler returns recognized pages not yet written into the binary.
func (s *Server) unburntHandler(w http.ResponseWriter, r *http.Request) {
	words, err := sessionFrom(r).GetUnburntOcr(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if words == nil {
		words = map[int][]model.OCRWord{}
	}
	s.writeJSON(w, http.StatusOK, words)
}

// jobsHandler lists queued and running recognitions.
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs := sessionFrom(r).OcrJobs()
	if jobs == nil {
		jobs = []model.OcrJob{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

// batchHandler recognizes a page range. A quota halt still returns the
// completed pages with status 429 and the resume point.
func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	var req ocr.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := sessionFrom(r).RunBatch(r.Context(), req)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ocr.ErrQuotaExceeded) && res.Halted:
		s.writeJSON(w, http.StatusTooManyRequests, res)
	default:
		s.writeError(w, err)
	}
}
