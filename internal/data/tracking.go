package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// TrackedViolation is the durable projection of one deduplication slot:
// which camera/class/grid-cell digest last produced an event and when.
// The in-memory deduplicator stays authoritative; these rows exist for
// forensics and survive restarts only as history.
type TrackedViolation struct {
	Digest      string    `json:"digest"`
	CameraID    uuid.UUID `json:"camera_id"`
	Violation   string    `json:"violation_type"`
	LastEventID uuid.UUID `json:"last_event_id"`
	Hits        int       `json:"hits"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

type TrackingModel struct {
	DB DBTX
}

// Upsert records that a digest produced an event. Repeated digests bump
// the hit counter and last_seen_at.
func (m TrackingModel) Upsert(ctx context.Context, digest string, cameraID uuid.UUID, violation string, eventID uuid.UUID) error {
	query := `
		INSERT INTO event_tracking (digest, camera_id, violation_type, last_event_id, hits)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (digest)
		DO UPDATE SET last_event_id = $4,
		              hits = event_tracking.hits + 1,
		              last_seen_at = NOW()`

	_, err := m.DB.ExecContext(ctx, query, digest, cameraID, violation, eventID)
	return err
}

// GetByDigest retrieves one tracked slot.
func (m TrackingModel) GetByDigest(ctx context.Context, digest string) (*TrackedViolation, error) {
	query := `
		SELECT digest, camera_id, violation_type, last_event_id, hits, first_seen_at, last_seen_at
		FROM event_tracking
		WHERE digest = $1`

	var t TrackedViolation
	err := m.DB.QueryRowContext(ctx, query, digest).Scan(
		&t.Digest, &t.CameraID, &t.Violation, &t.LastEventID, &t.Hits, &t.FirstSeenAt, &t.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PurgeOlderThan drops slots idle since before the cutoff.
func (m TrackingModel) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM event_tracking WHERE last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
