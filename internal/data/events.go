package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types accepted in events.event_type.
const (
	EventPPEViolation  = "ppe_violation"
	EventZoneViolation = "zone_violation"
	EventSystemAlert   = "system_alert"
)

// Violation kinds accepted in events.violation_type.
const (
	ViolationNoHardhat  = "no_hardhat"
	ViolationNoVest     = "no_vest"
	ViolationNoMask     = "no_mask"
	ViolationZoneBreach = "zone_breach"
	ViolationOther      = "other"
)

// Severities, ordered.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event is one materialized safety violation.
type Event struct {
	ID            uuid.UUID `json:"id"`
	OrgID         uuid.UUID `json:"org_id"`
	CameraID      uuid.UUID `json:"camera_id"`
	EventType     string    `json:"event_type"`
	ViolationType string    `json:"violation_type"`
	Severity      string    `json:"severity"`
	Confidence    float64   `json:"confidence"`
	// BBox is the triggering box in inference pixel space as
	// [x1, y1, x2, y2]; nil for events with no spatial anchor.
	BBox           *[4]int    `json:"bbox,omitempty"`
	FrameNumber    int64      `json:"frame_number"`
	ThumbnailPath  string     `json:"thumbnail_path,omitempty"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type EventModel struct {
	DB DBTX
}

// Insert persists a new event. The ID is generated client side so the
// thumbnail can be written under it before the row exists.
func (m EventModel) Insert(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO events (
			id, org_id, camera_id, event_type, violation_type, severity,
			confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2, frame_number,
			thumbnail_path
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`

	var x1, y1, x2, y2 any
	if e.BBox != nil {
		x1, y1, x2, y2 = e.BBox[0], e.BBox[1], e.BBox[2], e.BBox[3]
	}

	return m.DB.QueryRowContext(ctx, query,
		e.ID, e.OrgID, e.CameraID, e.EventType, e.ViolationType, e.Severity,
		e.Confidence, x1, y1, x2, y2, e.FrameNumber, e.ThumbnailPath,
	).Scan(&e.CreatedAt)
}

// GetByID retrieves one event scoped to its organization.
func (m EventModel) GetByID(ctx context.Context, id, orgID uuid.UUID) (*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE id = $1 AND org_id = $2`

	e, err := scanEvent(m.DB.QueryRowContext(ctx, query, id, orgID).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return e, err
}

const eventColumns = `id, org_id, camera_id, event_type, violation_type, severity,
	       confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2, frame_number,
	       thumbnail_path, acknowledged, acknowledged_at, acknowledged_by, created_at`

func scanEvent(scan func(dest ...any) error) (*Event, error) {
	var e Event
	var thumb, ackBy sql.NullString
	var ackAt sql.NullTime
	var x1, y1, x2, y2 sql.NullInt64

	err := scan(
		&e.ID, &e.OrgID, &e.CameraID, &e.EventType, &e.ViolationType, &e.Severity,
		&e.Confidence, &x1, &y1, &x2, &y2, &e.FrameNumber,
		&thumb, &e.Acknowledged, &ackAt, &ackBy, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if x1.Valid && y1.Valid && x2.Valid && y2.Valid {
		e.BBox = &[4]int{int(x1.Int64), int(y1.Int64), int(x2.Int64), int(y2.Int64)}
	}
	e.ThumbnailPath = thumb.String
	e.AcknowledgedBy = ackBy.String
	if ackAt.Valid {
		t := ackAt.Time
		e.AcknowledgedAt = &t
	}
	return &e, nil
}

// EventFilter parameters
type EventFilter struct {
	CameraID      *uuid.UUID
	ViolationType string
	Severity      string
	Acknowledged  *bool
	Since         time.Time
}

// ListRecent retrieves paginated events for one organization, newest
// first.
func (m EventModel) ListRecent(ctx context.Context, orgID uuid.UUID, filter EventFilter, limit, offset int) ([]*Event, int, error) {
	where := "WHERE org_id = $1"
	args := []any{orgID}
	nextArg := 2

	if filter.CameraID != nil {
		where += fmt.Sprintf(" AND camera_id = $%d", nextArg)
		args = append(args, *filter.CameraID)
		nextArg++
	}
	if filter.ViolationType != "" {
		where += fmt.Sprintf(" AND violation_type = $%d", nextArg)
		args = append(args, filter.ViolationType)
		nextArg++
	}
	if filter.Severity != "" {
		where += fmt.Sprintf(" AND severity = $%d", nextArg)
		args = append(args, filter.Severity)
		nextArg++
	}
	if filter.Acknowledged != nil {
		where += fmt.Sprintf(" AND acknowledged = $%d", nextArg)
		args = append(args, *filter.Acknowledged)
		nextArg++
	}
	if !filter.Since.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", nextArg)
		args = append(args, filter.Since)
		nextArg++
	}

	countQuery := "SELECT count(*) FROM events " + where
	var total int
	if err := m.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT `+eventColumns+`
		FROM events
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, nextArg, nextArg+1)

	args = append(args, limit, offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Acknowledge marks an event handled. Already-acknowledged events are
// left untouched and report ErrRecordNotFound.
func (m EventModel) Acknowledge(ctx context.Context, id, orgID uuid.UUID, who string) error {
	query := `
		UPDATE events
		SET acknowledged = true,
		    acknowledged_at = (NOW() AT TIME ZONE 'UTC'),
		    acknowledged_by = $1
		WHERE id = $2 AND org_id = $3 AND acknowledged = false`

	res, err := m.DB.ExecContext(ctx, query, who, id, orgID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteOlderThan removes events created before the cutoff. Used by the
// retention script; returns the number of rows removed.
func (m EventModel) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
