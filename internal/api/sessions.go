package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/export"
	"github.com/dunamismax/pixelframe/internal/gesture"
	"github.com/dunamismax/pixelframe/internal/poster"
	"github.com/dunamismax/pixelframe/internal/studio"
	"github.com/dunamismax/pixelframe/internal/theme"
)

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": theme.Presets()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	s.logger.Printf("session created session_id=%s live=%d", sess.ID(), s.sessions.Len())
	writeJSON(w, http.StatusCreated, sess.State())
}

// session resolves the {id} path value, answering 404 itself when the
// session is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*studio.Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) slot(w http.ResponseWriter, r *http.Request) (studio.Slot, bool) {
	slot, err := studio.ParseSlot(r.PathValue("slot"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return slot, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Close(r.Context(), r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}

	limit := s.sessions.Options().MaxUploadBytes
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(limit, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	if err := sess.Upload(r.Context(), slot, data, r.Header.Get("Content-Type")); err != nil {
		status := uploadStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Printf("upload failed session_id=%s slot=%s err=%v", sess.ID(), slot, err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, studio.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, studio.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, studio.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, studio.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, studio.ErrUnknownSlot):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleClearPhoto(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}
	if err := sess.ClearSlot(r.Context(), slot); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

type gestureRequest struct {
	Viewport gesture.Viewport `json:"viewport"`
	Events   []gesture.Event  `json:"events"`
}

func (s *Server) handleGestures(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}

	var req gestureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := sess.HandleGestures(slot, req.Viewport, req.Events)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.gesturesHandled.WithLabelValues(string(slot)).Add(float64(len(req.Events)))

	view := sess.State()
	photo := view.Cover.Photo
	switch slot {
	case studio.SlotBefore:
		photo = view.Poster.BeforeSlot
	case studio.SlotAfter:
		photo = view.Poster.AfterSlot
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": res,
		"photo":  photo,
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	names, err := sess.LoadTemplates(r.Context())
	body := map[string]any{
		"templates": names,
		"selected":  sess.State().Cover.Selected,
	}
	if names == nil {
		body["templates"] = []string{}
	}
	if err != nil {
		if !errors.Is(err, cover.ErrManifest) {
			s.logger.Printf("template load failed session_id=%s err=%v", sess.ID(), err)
		}
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

type selectTemplateRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSelectTemplate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req selectTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sess.SelectTemplate(r.Context(), req.Name); err != nil {
		switch {
		case errors.Is(err, cover.ErrUnknownTemplate):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, cover.ErrTemplateLoad):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

type posterRequest struct {
	Name         *string      `json:"name,omitempty"`
	Note         *string      `json:"note,omitempty"`
	Copy         *poster.Copy `json:"copy,omitempty"`
	DisplayWidth float64      `json:"display_width,omitempty"`
	RasterScale  float64      `json:"raster_scale,omitempty"`
}

func (s *Server) handleUpdatePoster(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req posterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess.UpdatePosterText(studio.PosterText{Name: req.Name, Note: req.Note, Copy: req.Copy})
	if req.DisplayWidth != 0 || req.RasterScale != 0 {
		sess.SetPosterDisplay(req.DisplayWidth, req.RasterScale)
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleUpdateTheme(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req studio.ThemeUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := sess.UpdateTheme(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	kind, err := domain.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	started := time.Now()
	headerSent := false
	sink := export.WriterSink{
		W: w,
		Before: func(name string, size int) {
			headerSent = true
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Content-Disposition", export.ContentDisposition(name))
			w.Header().Set("Content-Length", strconv.Itoa(size))
			w.WriteHeader(http.StatusOK)
		},
	}

	res, err := sess.Export(r.Context(), kind, sink)
	outcome := "ok"
	defer func() {
		s.metrics.exportsTotal.WithLabelValues(string(kind), outcome).Inc()
		s.metrics.exportDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	}()

	switch {
	case err == nil:
		s.logger.Printf("exported session_id=%s kind=%s name=%s bytes=%d resampled=%t", sess.ID(), kind, res.Name, res.Bytes, res.Resampled)
	case errors.Is(err, export.ErrExportInProgress):
		outcome = "busy"
		writeError(w, http.StatusConflict, err.Error())
	default:
		outcome = "error"
		s.logger.Printf("export failed session_id=%s kind=%s err=%v", sess.ID(), kind, err)
		if !headerSent {
			writeError(w, http.StatusInternalServerError, "export failed")
		}
	}
}
