package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-siteguard/internal/vision"
)

// Source kinds accepted in cameras.source_kind.
const (
	SourceRTSP = "rtsp"
	SourceFile = "file"
	SourceDemo = "demo"
)

// Detection modes accepted in cameras.detection_mode.
const (
	ModePPEOnly  = "ppe_only"
	ModeZoneOnly = "zone_only"
	ModeBoth     = "both"
)

// Worker-reported camera statuses.
const (
	StatusOffline    = "offline"
	StatusConnecting = "connecting"
	StatusStreaming  = "streaming"
	StatusError      = "error"
)

// Camera is one monitored video source and its pipeline settings.
type Camera struct {
	ID               uuid.UUID      `json:"id"`
	OrgID            uuid.UUID      `json:"org_id"`
	Name             string         `json:"name"`
	ZoneLabel        string         `json:"zone_label,omitempty"`
	SourceKind       string         `json:"source_kind"`
	RTSPURL          string         `json:"rtsp_url,omitempty"`
	CredentialsEnc   string         `json:"-"`
	PlaceholderVideo string         `json:"placeholder_video,omitempty"`
	UsePlaceholder   bool           `json:"use_placeholder"`
	InferenceEnabled bool           `json:"inference_enabled"`
	DetectionMode    string         `json:"detection_mode"`
	ZonePolygon      []vision.Point `json:"zone_polygon,omitempty"`
	TargetFPS        float64        `json:"target_fps"`
	InferenceWidth   int            `json:"inference_width"`
	InferenceHeight  int            `json:"inference_height"`
	ConfThreshold    float64        `json:"confidence_threshold"`
	IsActive         bool           `json:"is_active"`
	Status           string         `json:"status"`
	LastSeenAt       *time.Time     `json:"last_seen_at,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// SourceConfigChanged reports whether the fields that feed the stream
// source differ between two revisions of the same camera. The supervisor
// restarts the worker when they do; anything else is applied in place.
func (c *Camera) SourceConfigChanged(o *Camera) bool {
	return c.SourceKind != o.SourceKind ||
		c.RTSPURL != o.RTSPURL ||
		c.CredentialsEnc != o.CredentialsEnc ||
		c.PlaceholderVideo != o.PlaceholderVideo ||
		c.UsePlaceholder != o.UsePlaceholder
}

type CameraModel struct {
	DB DBTX
}

const cameraColumns = `
	id, org_id, name, zone_label, source_kind, rtsp_url, credentials_enc,
	placeholder_video, use_placeholder, inference_enabled, detection_mode,
	zone_polygon, target_fps, inference_width, inference_height,
	confidence_threshold, is_active, status, last_seen_at, last_error,
	created_at, updated_at`

// Create inserts a new camera. Enforces org FK via DB.
func (m CameraModel) Create(ctx context.Context, c *Camera) error {
	query := `
		INSERT INTO cameras (
			org_id, name, zone_label, source_kind, rtsp_url, credentials_enc,
			placeholder_video, use_placeholder, inference_enabled, detection_mode,
			zone_polygon, target_fps, inference_width, inference_height,
			confidence_threshold, is_active, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	polygon, err := marshalPolygon(c.ZonePolygon)
	if err != nil {
		return err
	}
	if c.Status == "" {
		c.Status = StatusOffline
	}

	return m.DB.QueryRowContext(ctx, query,
		c.OrgID, c.Name, c.ZoneLabel, c.SourceKind, c.RTSPURL, c.CredentialsEnc,
		c.PlaceholderVideo, c.UsePlaceholder, c.InferenceEnabled, c.DetectionMode,
		polygon, c.TargetFPS, c.InferenceWidth, c.InferenceHeight,
		c.ConfThreshold, c.IsActive, c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetByID retrieves a camera by ID regardless of active flag.
func (m CameraModel) GetByID(ctx context.Context, id uuid.UUID) (*Camera, error) {
	query := `SELECT` + cameraColumns + ` FROM cameras WHERE id = $1`
	return m.scanOne(m.DB.QueryRowContext(ctx, query, id))
}

// ListActive returns every camera the supervisor should be running,
// across all organizations, ordered by creation so reconcile diffs are
// stable between cycles.
func (m CameraModel) ListActive(ctx context.Context) ([]*Camera, error) {
	query := `SELECT` + cameraColumns + ` FROM cameras WHERE is_active = true ORDER BY created_at`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return m.scanMany(rows)
}

// CameraFilter parameters
type CameraFilter struct {
	Status   string
	IsActive *bool
}

// List retrieves paginated cameras for one organization.
func (m CameraModel) List(ctx context.Context, orgID uuid.UUID, filter CameraFilter, limit, offset int) ([]*Camera, int, error) {
	where := "WHERE org_id = $1"
	args := []any{orgID}
	nextArg := 2

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", nextArg)
		args = append(args, filter.Status)
		nextArg++
	}
	if filter.IsActive != nil {
		where += fmt.Sprintf(" AND is_active = $%d", nextArg)
		args = append(args, *filter.IsActive)
		nextArg++
	}

	countQuery := "SELECT count(*) FROM cameras " + where
	var total int
	if err := m.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT`+cameraColumns+`
		FROM cameras
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, nextArg, nextArg+1)

	args = append(args, limit, offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	cameras, err := m.scanMany(rows)
	if err != nil {
		return nil, 0, err
	}
	return cameras, total, nil
}

// Update modifies the pipeline settings of a camera.
func (m CameraModel) Update(ctx context.Context, c *Camera) error {
	query := `
		UPDATE cameras
		SET name = $1, zone_label = $2, source_kind = $3, rtsp_url = $4,
		    credentials_enc = $5, placeholder_video = $6, use_placeholder = $7,
		    inference_enabled = $8, detection_mode = $9, zone_polygon = $10,
		    target_fps = $11, inference_width = $12, inference_height = $13,
		    confidence_threshold = $14, is_active = $15, updated_at = NOW()
		WHERE id = $16 AND org_id = $17
		RETURNING updated_at`

	polygon, err := marshalPolygon(c.ZonePolygon)
	if err != nil {
		return err
	}

	err = m.DB.QueryRowContext(ctx, query,
		c.Name, c.ZoneLabel, c.SourceKind, c.RTSPURL,
		c.CredentialsEnc, c.PlaceholderVideo, c.UsePlaceholder,
		c.InferenceEnabled, c.DetectionMode, polygon,
		c.TargetFPS, c.InferenceWidth, c.InferenceHeight,
		c.ConfThreshold, c.IsActive, c.ID, c.OrgID,
	).Scan(&c.UpdatedAt)

	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// UpdateStatus mirrors the worker state into the camera row. lastErr is
// cleared when empty. Streaming transitions also bump last_seen_at.
func (m CameraModel) UpdateStatus(ctx context.Context, id uuid.UUID, status, lastErr string) error {
	query := `
		UPDATE cameras
		SET status = $1,
		    last_error = $2,
		    last_seen_at = CASE WHEN $1 = 'streaming' THEN NOW() ELSE last_seen_at END,
		    updated_at = NOW()
		WHERE id = $3`

	res, err := m.DB.ExecContext(ctx, query, status, lastErr, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SetActive flips the is_active flag; the supervisor picks the change up
// on its next refresh.
func (m CameraModel) SetActive(ctx context.Context, id, orgID uuid.UUID, active bool) error {
	query := `UPDATE cameras SET is_active = $1, updated_at = NOW() WHERE id = $2 AND org_id = $3`
	res, err := m.DB.ExecContext(ctx, query, active, id, orgID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m CameraModel) scanOne(row *sql.Row) (*Camera, error) {
	var c Camera
	var polygon []byte
	var rtspURL, credentials, placeholder, zoneLabel, lastErr sql.NullString
	var lastSeen sql.NullTime

	err := row.Scan(
		&c.ID, &c.OrgID, &c.Name, &zoneLabel, &c.SourceKind, &rtspURL, &credentials,
		&placeholder, &c.UsePlaceholder, &c.InferenceEnabled, &c.DetectionMode,
		&polygon, &c.TargetFPS, &c.InferenceWidth, &c.InferenceHeight,
		&c.ConfThreshold, &c.IsActive, &c.Status, &lastSeen, &lastErr,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	c.applyNullable(zoneLabel, rtspURL, credentials, placeholder, lastErr, lastSeen)
	if err := unmarshalPolygon(polygon, &c.ZonePolygon); err != nil {
		return nil, err
	}
	return &c, nil
}

func (m CameraModel) scanMany(rows *sql.Rows) ([]*Camera, error) {
	var cameras []*Camera
	for rows.Next() {
		var c Camera
		var polygon []byte
		var rtspURL, credentials, placeholder, zoneLabel, lastErr sql.NullString
		var lastSeen sql.NullTime

		if err := rows.Scan(
			&c.ID, &c.OrgID, &c.Name, &zoneLabel, &c.SourceKind, &rtspURL, &credentials,
			&placeholder, &c.UsePlaceholder, &c.InferenceEnabled, &c.DetectionMode,
			&polygon, &c.TargetFPS, &c.InferenceWidth, &c.InferenceHeight,
			&c.ConfThreshold, &c.IsActive, &c.Status, &lastSeen, &lastErr,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		c.applyNullable(zoneLabel, rtspURL, credentials, placeholder, lastErr, lastSeen)
		if err := unmarshalPolygon(polygon, &c.ZonePolygon); err != nil {
			return nil, err
		}
		cameras = append(cameras, &c)
	}
	return cameras, rows.Err()
}

func (c *Camera) applyNullable(zoneLabel, rtspURL, credentials, placeholder, lastErr sql.NullString, lastSeen sql.NullTime) {
	c.ZoneLabel = zoneLabel.String
	c.RTSPURL = rtspURL.String
	c.CredentialsEnc = credentials.String
	c.PlaceholderVideo = placeholder.String
	c.LastError = lastErr.String
	if lastSeen.Valid {
		t := lastSeen.Time
		c.LastSeenAt = &t
	}
}

func marshalPolygon(points []vision.Point) ([]byte, error) {
	if len(points) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(points)
}

func unmarshalPolygon(raw []byte, out *[]vision.Point) error {
	if len(raw) == 0 {
		return nil
	}
	var points []vision.Point
	if err := json.Unmarshal(raw, &points); err != nil {
		return fmt.Errorf("cameras: bad zone_polygon: %w", err)
	}
	if len(points) > 0 {
		*out = points
	}
	return nil
}
