package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-siteguard/internal/data"
)

func TestEventInsertGeneratesID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO events`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	m := data.EventModel{DB: db}
	e := &data.Event{
		OrgID:         uuid.New(),
		CameraID:      uuid.New(),
		EventType:     data.EventPPEViolation,
		ViolationType: data.ViolationNoHardhat,
		Severity:      data.SeverityHigh,
		Confidence:    0.91,
		BBox:          &[4]int{10, 20, 110, 220},
		FrameNumber:   42,
	}
	require.NoError(t, m.Insert(context.Background(), e))
	require.NotEqual(t, uuid.Nil, e.ID)
	require.False(t, e.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventInsertKeepsProvidedID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs(id, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil, nil, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	m := data.EventModel{DB: db}
	e := &data.Event{ID: id, OrgID: uuid.New(), CameraID: uuid.New()}
	require.NoError(t, m.Insert(context.Background(), e))
	require.Equal(t, id, e.ID)
}

func TestEventAcknowledge(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	id, orgID := uuid.New(), uuid.New()
	mock.ExpectExec(`UPDATE events`).
		WithArgs("ops", id, orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := data.EventModel{DB: db}
	require.NoError(t, m.Acknowledge(context.Background(), id, orgID, "ops"))
}

func TestEventAcknowledgeTwice(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := data.EventModel{DB: db}
	err = m.Acknowledge(context.Background(), uuid.New(), uuid.New(), "ops")
	require.ErrorIs(t, err, data.ErrRecordNotFound)
}

func TestEventListRecentFilters(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	orgID := uuid.New()
	camID := uuid.New()
	ack := false

	mock.ExpectQuery(`SELECT count\(\*\) FROM events`).
		WithArgs(orgID, camID, data.ViolationNoVest, ack).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(`ORDER BY created_at DESC`).
		WithArgs(orgID, camID, data.ViolationNoVest, ack, 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "camera_id", "event_type", "violation_type", "severity",
			"confidence", "bbox_x1", "bbox_y1", "bbox_x2", "bbox_y2", "frame_number",
			"thumbnail_path", "acknowledged", "acknowledged_at",
			"acknowledged_by", "created_at",
		}).AddRow(
			uuid.New(), orgID, camID, data.EventPPEViolation, data.ViolationNoVest,
			data.SeverityMedium, 0.66, 5, 6, 50, 60, 7,
			"/thumbs/x.jpg", false, nil, nil, time.Now(),
		))

	m := data.EventModel{DB: db}
	events, total, err := m.ListRecent(context.Background(), orgID, data.EventFilter{
		CameraID:      &camID,
		ViolationType: data.ViolationNoVest,
		Acknowledged:  &ack,
	}, 20, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, events, 1)
	require.Equal(t, data.ViolationNoVest, events[0].ViolationType)
	require.Equal(t, "/thumbs/x.jpg", events[0].ThumbnailPath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsIncrementDaily(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	orgID, camID := uuid.New(), uuid.New()
	day := time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)
	midnight := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO daily_stats .*no_hardhat_count.*`).
		WithArgs(orgID, camID, midnight).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := data.StatsModel{DB: db}
	require.NoError(t, m.IncrementDaily(context.Background(), orgID, camID, day, data.ViolationNoHardhat))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsIncrementDailyUnknownKind(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO daily_stats .*other_count.*`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := data.StatsModel{DB: db}
	require.NoError(t, m.IncrementDaily(context.Background(), uuid.New(), uuid.New(), time.Now(), "mystery"))
}

func TestStatsRangeScansOrgLevelRow(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	orgID, camID := uuid.New(), uuid.New()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	cols := []string{
		"org_id", "camera_id", "day", "total_events",
		"no_hardhat_count", "no_vest_count", "zone_breach_count", "other_count",
	}
	mock.ExpectQuery(`FROM daily_stats`).
		WithArgs(orgID, day, day).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(orgID, nil, day, 9, 4, 3, 2, 0).
			AddRow(orgID, camID, day, 5, 2, 2, 1, 0))

	m := data.StatsModel{DB: db}
	stats, err := m.Range(context.Background(), orgID, day, day)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, uuid.Nil, stats[0].CameraID, "org-level row scans as the nil UUID")
	require.Equal(t, 9, stats[0].TotalEvents)
	require.Equal(t, camID, stats[1].CameraID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackingUpsert(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	camID, eventID := uuid.New(), uuid.New()
	mock.ExpectExec(`INSERT INTO event_tracking`).
		WithArgs("abcd1234abcd1234", camID, data.ViolationZoneBreach, eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := data.TrackingModel{DB: db}
	require.NoError(t, m.Upsert(context.Background(), "abcd1234abcd1234", camID, data.ViolationZoneBreach, eventID))
	require.NoError(t, mock.ExpectationsWereMet())
}
