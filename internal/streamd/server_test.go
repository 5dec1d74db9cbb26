package streamd

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/ratelimit"
)

const (
	testViewerToken  = "viewer-token"
	testServiceToken = "service-token"
)

func testServer(t *testing.T) (*Server, sqlmock.Sqlmock, *redis.Client) {
	t.Helper()
	frameBus, mr := testBus(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := &Server{
		Bus:      frameBus,
		Registry: NewRegistry(frameBus, 5),
		Events:   data.EventModel{DB: db},
		Stats:    data.StatsModel{DB: db},
		Access:   AccessConfig{ServiceToken: testServiceToken, ViewerToken: testViewerToken},
	}
	return s, mock, rdb
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testViewerToken)
	return req
}

func TestHealthzIsPublic(t *testing.T) {
	s, _, _ := testServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenRequired(t *testing.T) {
	s, _, _ := testServer(t)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/snapshot/cam-1", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/snapshot/cam-1?token=wrong", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Header and query parameter are both accepted, for either token.
	rec = doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/snapshot/cam-1", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/snapshot/cam-1?token="+testServiceToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSnapshotFallsBackToPlaceholder(t *testing.T) {
	s, _, _ := testServer(t)

	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/snapshot/cam-1", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	body := rec.Body.Bytes()
	require.Equal(t, []byte{0xff, 0xd8}, body[:2], "placeholder is a JPEG")
}

func TestSnapshotServesLatestFrame(t *testing.T) {
	s, _, _ := testServer(t)
	require.NoError(t, s.Bus.PublishFrame(context.Background(), "cam-1", []byte("current-frame")))

	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/snapshot/cam-1", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "current-frame", rec.Body.String())
}

func TestSnapshotRejectsBadCameraID(t *testing.T) {
	s, _, _ := testServer(t)
	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/snapshot/cam%2F..%2Fetc", nil)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCameraMeta(t *testing.T) {
	s, _, _ := testServer(t)
	require.NoError(t, s.Bus.SetCameraMeta(context.Background(), "cam-1", map[string]any{
		"state":      "streaming",
		"stream_fps": 12.5,
	}))

	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-1/meta", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		CameraID string            `json:"camera_id"`
		Live     bool              `json:"live"`
		Meta     map[string]string `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "cam-1", resp.CameraID)
	require.True(t, resp.Live)
	require.Equal(t, "streaming", resp.Meta["state"])
}

func TestCameraMetaNotLive(t *testing.T) {
	s, _, _ := testServer(t)

	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-gone/meta", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Live bool `json:"live"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Live)
}

func eventRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "camera_id", "event_type", "violation_type", "severity",
		"confidence", "bbox_x1", "bbox_y1", "bbox_x2", "bbox_y2", "frame_number",
		"thumbnail_path", "acknowledged", "acknowledged_at", "acknowledged_by", "created_at",
	})
}

func TestListEvents(t *testing.T) {
	s, mock, _ := testServer(t)
	orgID := uuid.New()
	cameraID := uuid.New()

	mock.ExpectQuery(`SELECT count\(\*\) FROM events`).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM events`).
		WithArgs(orgID, 50, 0).
		WillReturnRows(eventRows().AddRow(
			uuid.New(), orgID, cameraID, data.EventPPEViolation, data.ViolationNoHardhat,
			data.SeverityHigh, 0.72, 10, 20, 110, 220, int64(7),
			"/thumbs/x.jpg", false, nil, nil, time.Now(),
		))

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	req.Header.Set("X-Org-ID", orgID.String())
	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []map[string]any `json:"events"`
		Total  int              `json:"total"`
		Limit  int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, 50, resp.Limit)
	require.Len(t, resp.Events, 1)
	require.Equal(t, data.ViolationNoHardhat, resp.Events[0]["violation_type"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEventsRequiresOrg(t *testing.T) {
	s, _, _ := testServer(t)
	rec := doRequest(s, authed(httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEventsRejectsBadCameraFilter(t *testing.T) {
	s, _, _ := testServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/events?camera_id=not-a-uuid", nil))
	req.Header.Set("X-Org-ID", uuid.NewString())
	rec := doRequest(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAckEvent(t *testing.T) {
	s, mock, _ := testServer(t)
	orgID := uuid.New()
	eventID := uuid.New()

	mock.ExpectExec(`UPDATE events`).
		WithArgs("operator-7", eventID, orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/events/"+eventID.String()+"/ack", nil))
	req.Header.Set("X-Org-ID", orgID.String())
	req.Header.Set("X-User", "operator-7")
	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAckEventNotFound(t *testing.T) {
	s, mock, _ := testServer(t)
	orgID := uuid.New()
	eventID := uuid.New()

	mock.ExpectExec(`UPDATE events`).
		WithArgs("dashboard", eventID, orgID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/events/"+eventID.String()+"/ack", nil))
	req.Header.Set("X-Org-ID", orgID.String())
	rec := doRequest(s, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDailyStats(t *testing.T) {
	s, mock, _ := testServer(t)
	orgID := uuid.New()

	mock.ExpectQuery(`FROM daily_stats`).
		WillReturnRows(sqlmock.NewRows([]string{
			"org_id", "camera_id", "day", "total_events",
			"no_hardhat_count", "no_vest_count", "zone_breach_count", "other_count",
		}).AddRow(orgID, uuid.New(), time.Now().UTC(), 4, 2, 1, 1, 0))

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/stats/daily?from=2026-08-01&to=2026-08-07", nil))
	req.Header.Set("X-Org-ID", orgID.String())
	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stats []map[string]any `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Stats, 1)
}

func TestDailyStatsRejectsBadDate(t *testing.T) {
	s, _, _ := testServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/stats/daily?from=yesterday", nil))
	req.Header.Set("X-Org-ID", uuid.NewString())
	rec := doRequest(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectLimit(t *testing.T) {
	s, _, rdb := testServer(t)
	s.Limiter = ratelimit.NewLimiter(rdb, "test")
	s.StreamLimit = ratelimit.LimitConfig{Rate: 2, Window: time.Minute}

	// /ws/events sits behind the connect limiter; without an org it
	// answers 400, which is enough to see the limiter threshold.
	for i := 0; i < 2; i++ {
		req := authed(httptest.NewRequest(http.MethodGet, "/ws/events", nil))
		req.RemoteAddr = "203.0.113.9:1234"
		rec := doRequest(s, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	req.RemoteAddr = "203.0.113.9:1234"
	rec := doRequest(s, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))

	// A different client still gets through.
	req = authed(httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	req.RemoteAddr = "203.0.113.50:1234"
	rec = doRequest(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamServesMJPEG(t *testing.T) {
	s, _, _ := testServer(t)
	require.NoError(t, s.Bus.PublishFrame(context.Background(), "cam-1", []byte("frame-zero")))

	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream/cam-1?token="+testViewerToken, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "multipart/x-mixed-replace; boundary="+mjpegBoundary, resp.Header.Get("Content-Type"))

	mr := multipart.NewReader(resp.Body, mjpegBoundary)
	part, err := mr.NextPart()
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

	buf := make([]byte, 32)
	n, _ := part.Read(buf)
	require.Equal(t, "frame-zero", string(buf[:n]), "first part is the latest-frame register")

	// A frame published while connected arrives as the next part.
	require.NoError(t, s.Bus.PublishFrame(context.Background(), "cam-1", []byte("frame-one")))
	part, err = mr.NextPart()
	require.NoError(t, err)
	n, _ = part.Read(buf)
	require.Equal(t, "frame-one", string(buf[:n]))
}
