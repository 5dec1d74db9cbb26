// Package events turns detections into persisted violation events. The
// materializer runs on the inference completion path: it filters
// detections through the deduplicator, writes the thumbnail and the
// event row, updates the daily roll-up and tracking projection, and
// publishes the event to the organization's bus subject.
package events

import (
	"context"
	"encoding/json"
	"image"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/dedup"
	"github.com/technosupport/ts-siteguard/internal/metrics"
	"github.com/technosupport/ts-siteguard/internal/vision"
)

// criticalConfidence escalates any violation to critical severity.
const criticalConfidence = 0.8

type eventStore interface {
	Insert(ctx context.Context, e *data.Event) error
}

type statsStore interface {
	IncrementDaily(ctx context.Context, orgID, cameraID uuid.UUID, day time.Time, violation string) error
}

type trackingStore interface {
	Upsert(ctx context.Context, digest string, cameraID uuid.UUID, violation string, eventID uuid.UUID) error
}

type eventPublisher interface {
	PublishEvent(orgID string, payload []byte) error
}

// Materializer is shared by every camera pipeline. Job processing is
// sequential per inference completion; the deduplicator provides the
// cross-camera locking.
type Materializer struct {
	Dedup    *dedup.Deduplicator
	Events   eventStore
	Stats    statsStore
	Tracking trackingStore
	Bus      eventPublisher
	Thumbs   *Thumbnailer
}

// Job carries one frame's detections plus the camera snapshot they were
// produced under. Frame is owned by the job; nothing else reads it.
type Job struct {
	CameraID   uuid.UUID
	OrgID      uuid.UUID
	CameraName string
	Mode       string
	Zone       []vision.Point

	Detections  []vision.Detection
	Frame       *image.RGBA
	FrameNumber int64
}

// candidate is one violation sighting awaiting dedup and persistence.
type candidate struct {
	classID    int
	violation  string
	eventType  string
	confidence float64
	box        vision.Box
}

// Process runs the full materialization pass for one inference result.
// Store failures leave the dedup slot unregistered so the violation
// retries on its next sighting; bus failures never undo a stored event.
func (m *Materializer) Process(ctx context.Context, job Job) {
	frameW, frameH := 0, 0
	if job.Frame != nil {
		frameW = job.Frame.Bounds().Dx()
		frameH = job.Frame.Bounds().Dy()
	}

	for _, c := range m.candidates(job) {
		ok, digest := m.Dedup.ShouldEmit(job.CameraID.String(), c.classID, c.box, frameW, frameH)
		if !ok {
			metrics.RecordEventSuppressed()
			continue
		}
		m.materialize(ctx, job, c, digest)
	}
}

// candidates enumerates the violations present in the frame according
// to the camera's detection mode.
func (m *Materializer) candidates(job Job) []candidate {
	var out []candidate

	if job.Mode == data.ModePPEOnly || job.Mode == data.ModeBoth {
		for _, p := range vision.AssessPPE(job.Detections) {
			if p.NoHardhat {
				out = append(out, candidate{
					classID:    vision.ClassNoHardhat,
					violation:  data.ViolationNoHardhat,
					eventType:  data.EventPPEViolation,
					confidence: p.NoHardhatConf,
					box:        p.Person.Box,
				})
			}
			if p.NoVest {
				out = append(out, candidate{
					classID:    vision.ClassNoSafetyVest,
					violation:  data.ViolationNoVest,
					eventType:  data.EventPPEViolation,
					confidence: p.NoVestConf,
					box:        p.Person.Box,
				})
			}
		}
	}

	if job.Mode == data.ModeZoneOnly || job.Mode == data.ModeBoth {
		for _, d := range vision.ZoneBreaches(job.Detections, job.Zone) {
			out = append(out, candidate{
				classID:    vision.ClassZoneBreach,
				violation:  data.ViolationZoneBreach,
				eventType:  data.EventZoneViolation,
				confidence: d.Confidence,
				box:        d.Box,
			})
		}
	}
	return out
}

func (m *Materializer) materialize(ctx context.Context, job Job, c candidate, digest string) {
	eventID := uuid.New()

	thumbPath := ""
	if m.Thumbs != nil && job.Frame != nil {
		path, err := m.Thumbs.Save(eventID, job.Frame, c.box)
		if err != nil {
			log.Printf("[Materializer] [ERROR] thumbnail for camera %s: %v", job.CameraID, err)
		} else {
			thumbPath = path
		}
	}

	event := &data.Event{
		ID:            eventID,
		OrgID:         job.OrgID,
		CameraID:      job.CameraID,
		EventType:     c.eventType,
		ViolationType: c.violation,
		Severity:      severityFor(c.violation, c.confidence),
		Confidence:    c.confidence,
		BBox: &[4]int{
			int(c.box.X1), int(c.box.Y1), int(c.box.X2), int(c.box.Y2),
		},
		FrameNumber:   job.FrameNumber,
		ThumbnailPath: thumbPath,
	}

	// Insert first. The dedup slot stays open until the row exists, so a
	// failed insert retries on the next matching detection.
	if err := m.Events.Insert(ctx, event); err != nil {
		log.Printf("[Materializer] [ERROR] insert event for camera %s: %v", job.CameraID, err)
		return
	}
	m.Dedup.Register(digest, event.ID)
	metrics.RecordEventMaterialized(c.violation)

	if m.Tracking != nil {
		if err := m.Tracking.Upsert(ctx, digest, job.CameraID, c.violation, event.ID); err != nil {
			log.Printf("[Materializer] [ERROR] tracking upsert: %v", err)
		}
	}
	if m.Stats != nil {
		if err := m.Stats.IncrementDaily(ctx, job.OrgID, job.CameraID, event.CreatedAt, c.violation); err != nil {
			log.Printf("[Materializer] [ERROR] daily stats: %v", err)
		}
	}

	if m.Bus != nil {
		if err := m.Bus.PublishEvent(job.OrgID.String(), wirePayload(event, job.CameraName)); err != nil {
			log.Printf("[Materializer] [ERROR] publish event %s: %v", event.ID, err)
		}
	}

	log.Printf("[Materializer] camera %s: %s (%s, conf %.2f) -> event %s",
		job.CameraID, c.violation, event.Severity, c.confidence, event.ID)
}

// severityFor applies the default per-violation severity plus the
// high-confidence escalation rule.
func severityFor(violation string, confidence float64) string {
	if confidence > criticalConfidence {
		return data.SeverityCritical
	}
	switch violation {
	case data.ViolationNoHardhat:
		return data.SeverityHigh
	case data.ViolationNoVest:
		return data.SeverityMedium
	case data.ViolationZoneBreach:
		return data.SeverityCritical
	default:
		return data.SeverityLow
	}
}

// wirePayload is the JSON record sent on events.<org>.
func wirePayload(e *data.Event, cameraName string) []byte {
	payload := map[string]any{
		"id":             e.ID.String(),
		"org_id":         e.OrgID.String(),
		"camera_id":      e.CameraID.String(),
		"camera_name":    cameraName,
		"event_type":     e.EventType,
		"violation_type": e.ViolationType,
		"severity":       e.Severity,
		"confidence":     math.Round(e.Confidence*100) / 100,
		"thumbnail_path": e.ThumbnailPath,
		"created_at":     e.CreatedAt.UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// Only reachable with unmarshalable values, which the map never
		// holds; keep the pipeline alive regardless.
		log.Printf("[Materializer] [ERROR] marshal event payload: %v", err)
		return []byte("{}")
	}
	return raw
}
