// Package streamd is the fan-out daemon: it relays annotated frames to
// browsers as MJPEG, pushes event notifications over WebSocket, and
// serves the small read API backing the dashboard.
package streamd

import (
	"context"
	"log"
	"sync"

	"github.com/technosupport/ts-siteguard/internal/bus"
	"github.com/technosupport/ts-siteguard/internal/metrics"
)

// Broadcaster fans one bus frame subscription out to every connected
// viewer of a camera. Each viewer gets a bounded queue; a full queue
// drops the frame for that viewer only. When the last viewer leaves,
// the bus subscription is released.
type Broadcaster struct {
	cameraID string
	depth    int

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	sub     *bus.FrameSubscription
	closed  bool
}

func newBroadcaster(cameraID string, depth int) *Broadcaster {
	if depth < 1 {
		depth = 5
	}
	return &Broadcaster{
		cameraID: cameraID,
		depth:    depth,
		clients:  make(map[chan []byte]struct{}),
	}
}

// run pumps frames from the bus subscription into every client queue.
func (b *Broadcaster) run(sub *bus.FrameSubscription) {
	for frame := range sub.Frames() {
		b.mu.Lock()
		for ch := range b.clients {
			select {
			case ch <- frame:
			default:
				// Viewer is behind; smoothness over completeness.
				metrics.RecordFrameDrop(b.cameraID)
			}
		}
		b.mu.Unlock()
	}

	// Subscription ended under us (bus failure): unblock all viewers.
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
	metrics.BroadcasterClients.WithLabelValues(b.cameraID).Set(0)
}

// Registry hands out per-camera broadcasters with reference counting.
type Registry struct {
	bus   *bus.Bus
	depth int

	mu           sync.Mutex
	broadcasters map[string]*Broadcaster
}

// NewRegistry builds a registry; depth is the per-viewer queue bound.
func NewRegistry(b *bus.Bus, depth int) *Registry {
	return &Registry{bus: b, depth: depth, broadcasters: make(map[string]*Broadcaster)}
}

// Subscribe attaches a viewer to the camera's broadcaster, creating the
// broadcaster and its bus subscription on first use. The returned
// cancel must be called on viewer disconnect; it tears the shared
// subscription down when the viewer was the last one.
func (r *Registry) Subscribe(ctx context.Context, cameraID string) (<-chan []byte, func(), error) {
	r.mu.Lock()
	bc, ok := r.broadcasters[cameraID]
	r.mu.Unlock()

	if !ok {
		sub, err := r.bus.SubscribeFrames(ctx, cameraID)
		if err != nil {
			return nil, nil, err
		}

		r.mu.Lock()
		// Another viewer may have raced us here.
		if existing, raced := r.broadcasters[cameraID]; raced {
			r.mu.Unlock()
			sub.Close()
			bc = existing
		} else {
			bc = newBroadcaster(cameraID, r.depth)
			bc.sub = sub
			r.broadcasters[cameraID] = bc
			r.mu.Unlock()
			go bc.run(sub)
			log.Printf("[Broadcaster] camera %s: subscription opened", cameraID)
		}
	}

	ch := make(chan []byte, r.depth)
	bc.mu.Lock()
	if bc.closed {
		bc.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	bc.clients[ch] = struct{}{}
	count := len(bc.clients)
	bc.mu.Unlock()
	metrics.BroadcasterClients.WithLabelValues(cameraID).Set(float64(count))

	var once sync.Once
	cancel := func() {
		once.Do(func() { r.release(cameraID, bc, ch) })
	}
	return ch, cancel, nil
}

func (r *Registry) release(cameraID string, bc *Broadcaster, ch chan []byte) {
	bc.mu.Lock()
	if _, ok := bc.clients[ch]; ok {
		delete(bc.clients, ch)
		close(ch)
	}
	last := len(bc.clients) == 0 && !bc.closed
	if last {
		bc.closed = true
	}
	count := len(bc.clients)
	bc.mu.Unlock()
	metrics.BroadcasterClients.WithLabelValues(cameraID).Set(float64(count))

	if last {
		r.mu.Lock()
		if r.broadcasters[cameraID] == bc {
			delete(r.broadcasters, cameraID)
		}
		r.mu.Unlock()
		bc.sub.Close()
		log.Printf("[Broadcaster] camera %s: last viewer left, subscription released", cameraID)
	}
}

// ActiveCameras returns how many broadcasters currently hold a bus
// subscription.
func (r *Registry) ActiveCameras() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.broadcasters)
}
