package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DailyStat is one day's roll-up of violation counts. CameraID is the
// nil UUID on org-level rows.
type DailyStat struct {
	OrgID          uuid.UUID `json:"org_id"`
	CameraID       uuid.UUID `json:"camera_id"`
	Day            time.Time `json:"day"`
	TotalEvents    int       `json:"total_events"`
	NoHardhatCount int       `json:"no_hardhat_count"`
	NoVestCount    int       `json:"no_vest_count"`
	ZoneCount      int       `json:"zone_breach_count"`
	OtherCount     int       `json:"other_count"`
}

type StatsModel struct {
	DB DBTX
}

// Column per violation kind; anything unknown lands in other_count.
var statColumns = map[string]string{
	ViolationNoHardhat:  "no_hardhat_count",
	ViolationNoVest:     "no_vest_count",
	ViolationZoneBreach: "zone_breach_count",
}

// IncrementDaily bumps the roll-up row for the camera's day, creating it
// on first touch. Day is truncated to UTC midnight.
func (m StatsModel) IncrementDaily(ctx context.Context, orgID, cameraID uuid.UUID, day time.Time, violation string) error {
	column, ok := statColumns[violation]
	if !ok {
		column = "other_count"
	}
	day = day.UTC().Truncate(24 * time.Hour)

	// column comes from the whitelist above, never from input.
	query := fmt.Sprintf(`
		INSERT INTO daily_stats (org_id, camera_id, day, total_events, %[1]s)
		VALUES ($1, $2, $3, 1, 1)
		ON CONFLICT (org_id, camera_id, day)
		DO UPDATE SET total_events = daily_stats.total_events + 1,
		              %[1]s = daily_stats.%[1]s + 1`, column)

	_, err := m.DB.ExecContext(ctx, query, orgID, cameraID, day)
	return err
}

// Range returns the roll-ups for an organization between two days
// inclusive, oldest first.
func (m StatsModel) Range(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]*DailyStat, error) {
	query := `
		SELECT org_id, camera_id, day, total_events,
		       no_hardhat_count, no_vest_count, zone_breach_count, other_count
		FROM daily_stats
		WHERE org_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day, camera_id`

	rows, err := m.DB.QueryContext(ctx, query, orgID, from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*DailyStat
	for rows.Next() {
		var s DailyStat
		var cameraID uuid.NullUUID
		if err := rows.Scan(
			&s.OrgID, &cameraID, &s.Day, &s.TotalEvents,
			&s.NoHardhatCount, &s.NoVestCount, &s.ZoneCount, &s.OtherCount,
		); err != nil {
			return nil, err
		}
		s.CameraID = cameraID.UUID
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}
