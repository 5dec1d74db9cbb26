// Package dedup suppresses repeat violation events. A violation is keyed
// by (camera, violation class, grid cell of the person centroid); once an
// event for a key is registered, further sightings inside the cooldown
// only refresh the key instead of materializing new events.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-siteguard/internal/vision"
)

// DefaultStaleAge is how long an idle entry survives before cleanup.
const DefaultStaleAge = 5 * time.Minute

type entry struct {
	lastSeen time.Time
	eventID  uuid.UUID
}

// Deduplicator is shared by every camera pipeline in the process. All
// operations take one mutex; everything except cleanup is O(1).
type Deduplicator struct {
	mu       sync.Mutex
	cooldown time.Duration
	grid     int
	entries  map[string]*entry
}

// New builds a deduplicator with the given cooldown and grid dimension.
func New(cooldown time.Duration, grid int) *Deduplicator {
	if grid < 1 {
		grid = 1
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Deduplicator{
		cooldown: cooldown,
		grid:     grid,
		entries:  make(map[string]*entry),
	}
}

// ShouldEmit decides whether a sighted violation may materialize an
// event. It quantizes the box centroid onto the grid, forms the
// signature digest, and returns true when no live entry suppresses it.
//
// On true nothing is written; the caller must Register the digest once
// the event is safely persisted. On false the entry's last-seen time is
// refreshed, so a violation that stays in frame keeps its slot warm.
func (d *Deduplicator) ShouldEmit(cameraID string, classID int, box vision.Box, frameW, frameH int) (bool, string) {
	row, col := d.cell(box, frameW, frameH)
	digest := signatureDigest(cameraID, classID, row, col)

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[digest]
	if !ok {
		return true, digest
	}
	if time.Since(e.lastSeen) >= d.cooldown {
		return true, digest
	}
	e.lastSeen = time.Now()
	return false, digest
}

// Register records that an event materialized for the digest. Called only
// after the store insert succeeded, so a failed insert leaves the slot
// open for retry.
func (d *Deduplicator) Register(digest string, eventID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[digest] = &entry{lastSeen: time.Now(), eventID: eventID}
}

// LastEventID returns the event that currently holds a digest's slot.
func (d *Deduplicator) LastEventID(digest string) (uuid.UUID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[digest]; ok {
		return e.eventID, true
	}
	return uuid.Nil, false
}

// CleanupStale removes entries idle for longer than maxAge and returns
// how many were dropped.
func (d *Deduplicator) CleanupStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for digest, e := range d.entries {
		if e.lastSeen.Before(cutoff) {
			delete(d.entries, digest)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// RunCleanup purges stale entries on a ticker until the context ends.
func (d *Deduplicator) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := d.CleanupStale(maxAge); n > 0 {
				log.Printf("[Dedup] purged %d stale entries", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// cell quantizes the box centroid onto the grid. Cells are half-open
// along each axis; centroids past the frame edge clamp to the last cell.
func (d *Deduplicator) cell(box vision.Box, frameW, frameH int) (row, col int) {
	cx, cy := box.Centroid()
	col = clampCell(cx, frameW, d.grid)
	row = clampCell(cy, frameH, d.grid)
	return row, col
}

func clampCell(coord float64, size, grid int) int {
	if size <= 0 {
		return 0
	}
	cell := int(coord / float64(size) * float64(grid))
	if cell < 0 {
		return 0
	}
	if cell >= grid {
		return grid - 1
	}
	return cell
}

func signatureDigest(cameraID string, classID, row, col int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:R%dC%d", cameraID, classID, row, col)))
	return hex.EncodeToString(sum[:])[:16]
}
