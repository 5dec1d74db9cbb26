package streamd

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-siteguard/internal/data"
)

var cameraIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

const mjpegBoundary = "frame"

// handleStream serves the camera's live feed as MJPEG. The latest-frame
// register paints the first part immediately; afterwards the shared
// broadcaster feeds the connection until the viewer leaves.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraID")
	if !cameraIDRegex.MatchString(cameraID) {
		writeError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	frames, cancel, err := s.Registry.Subscribe(r.Context(), cameraID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "frame bus unavailable")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	first := s.latestOrPlaceholder(r, cameraID)
	if err := writeMJPEGPart(w, first); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case frame, open := <-frames:
			if !open {
				return
			}
			if err := writeMJPEGPart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpeg []byte) error {
	_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg))
	if err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err = fmt.Fprint(w, "\r\n")
	return err
}

// handleSnapshot returns the camera's most recent frame as one JPEG,
// falling back to the placeholder when the register has expired.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraID")
	if !cameraIDRegex.MatchString(cameraID) {
		writeError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	frame := s.latestOrPlaceholder(r, cameraID)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

func (s *Server) latestOrPlaceholder(r *http.Request, cameraID string) []byte {
	ctx, cancel := statusCtx(r)
	defer cancel()
	frame, err := s.Bus.LatestFrame(ctx, cameraID)
	if err != nil {
		return s.placeholder
	}
	return frame
}

// handleCameraMeta serves the live metadata hash for one camera.
func (s *Server) handleCameraMeta(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraID")
	if !cameraIDRegex.MatchString(cameraID) {
		writeError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	ctx, cancel := statusCtx(r)
	defer cancel()
	meta, err := s.Bus.CameraMeta(ctx, cameraID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "meta unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id": cameraID,
		"live":      len(meta) > 0,
		"meta":      meta,
	})
}

// handleListEvents returns recent events for the caller's organization.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid org")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)

	filter := data.EventFilter{
		ViolationType: r.URL.Query().Get("violation_type"),
		Severity:      r.URL.Query().Get("severity"),
	}
	if raw := r.URL.Query().Get("camera_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid camera_id")
			return
		}
		filter.CameraID = &id
	}
	if raw := r.URL.Query().Get("acknowledged"); raw != "" {
		ack := raw == "true"
		filter.Acknowledged = &ack
	}

	ctx, cancel := statusCtx(r)
	defer cancel()
	events, total, err := s.Events.ListRecent(ctx, orgID, filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleAckEvent marks an event acknowledged.
func (s *Server) handleAckEvent(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid org")
		return
	}
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	who := r.Header.Get("X-User")
	if who == "" {
		who = "dashboard"
	}

	ctx, cancel := statusCtx(r)
	defer cancel()
	switch err := s.Events.Acknowledge(ctx, eventID, orgID, who); err {
	case nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	case data.ErrRecordNotFound:
		writeError(w, http.StatusNotFound, "event not found or already acknowledged")
	default:
		writeError(w, http.StatusInternalServerError, "acknowledge failed")
	}
}

// handleDailyStats serves the roll-up rows for a date range, defaulting
// to the trailing week.
func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid org")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		to = t
	}

	ctx, cancel := statusCtx(r)
	defer cancel()
	stats, err := s.Stats.Range(ctx, orgID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}
