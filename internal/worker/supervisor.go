package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-siteguard/internal/bus"
	"github.com/technosupport/ts-siteguard/internal/config"
	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/metrics"
	"github.com/technosupport/ts-siteguard/internal/source"
)

// CameraStore is the supervisor's view of the cameras table.
type CameraStore interface {
	CameraStatusStore
	ListActive(ctx context.Context) ([]*data.Camera, error)
}

type handle struct {
	rt     *Runtime
	cam    *data.Camera
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the set of camera runtimes. It spawns one worker per
// active camera and reconciles the set against the store on a fixed
// period. The supervisor mutex only guards the reconcile pass; workers
// never touch it.
type Supervisor struct {
	store      CameraStore
	bus        *bus.Bus
	resolver   *source.Resolver
	dispatcher *Dispatcher
	cfg        config.Pipeline

	mu      sync.Mutex
	workers map[uuid.UUID]*handle
}

// NewSupervisor wires a supervisor. Workers are not started until Run.
func NewSupervisor(store CameraStore, b *bus.Bus, resolver *source.Resolver, dispatcher *Dispatcher, cfg config.Pipeline) *Supervisor {
	return &Supervisor{
		store:      store,
		bus:        b,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
		workers:    make(map[uuid.UUID]*handle),
	}
}

// Run performs the initial load then reconciles every refresh period
// until the context ends, at which point every worker is stopped within
// the shutdown grace.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		log.Printf("[Supervisor] [ERROR] initial camera load: %v", err)
	}

	ticker := time.NewTicker(s.cfg.SupervisorRefresh())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				log.Printf("[Supervisor] [ERROR] reconcile: %v", err)
			}
		case <-ctx.Done():
			s.stopAll()
			return ctx.Err()
		}
	}
}

// Reconcile diffs the runtime set against the active camera list:
// removed cameras stop, new cameras start, source changes restart, and
// everything else is applied in place for the next loop iteration.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	cameras, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]bool, len(cameras))
	for _, cam := range cameras {
		seen[cam.ID] = true

		h, running := s.workers[cam.ID]
		switch {
		case !running:
			log.Printf("[Supervisor] camera %s (%s): added", cam.ID, cam.Name)
			s.startLocked(ctx, cam)
		case h.cam.SourceConfigChanged(cam):
			log.Printf("[Supervisor] camera %s: source config changed, restarting", cam.ID)
			s.stopLocked(cam.ID)
			s.startLocked(ctx, cam)
		default:
			h.cam = cam
			h.rt.ApplyConfig(cam)
		}
	}

	for id := range s.workers {
		if !seen[id] {
			log.Printf("[Supervisor] camera %s: removed or deactivated, stopping", id)
			s.stopLocked(id)
		}
	}

	metrics.ActiveWorkers.Set(float64(len(s.workers)))
	return nil
}

// WorkerCount returns the number of running workers.
func (s *Supervisor) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// RuntimeFor exposes a camera's runtime, mainly for tests and
// diagnostics.
func (s *Supervisor) RuntimeFor(id uuid.UUID) (*Runtime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.workers[id]; ok {
		return h.rt, true
	}
	return nil, false
}

// startLocked spawns a worker; caller holds the supervisor mutex.
// Worker contexts descend from Background, not from the reconcile
// context, so a finished reconcile pass does not tear them down.
func (s *Supervisor) startLocked(ctx context.Context, cam *data.Camera) {
	wctx, cancel := context.WithCancel(context.Background())
	rt := NewRuntime(cam)
	w := New(rt, s.bus, s.store, s.resolver, s.dispatcher, s.cfg)

	h := &handle{rt: rt, cam: cam, cancel: cancel, done: make(chan struct{})}
	s.workers[cam.ID] = h

	go func() {
		defer close(h.done)
		w.Run(wctx)
	}()
}

// stopLocked cancels a worker and waits for its terminal transition
// within the shutdown grace; caller holds the supervisor mutex.
func (s *Supervisor) stopLocked(id uuid.UUID) {
	h, ok := s.workers[id]
	if !ok {
		return
	}
	delete(s.workers, id)
	h.cancel()

	select {
	case <-h.done:
	case <-time.After(s.cfg.ShutdownGrace()):
		log.Printf("[Supervisor] [ERROR] camera %s: worker did not stop within grace", id)
	}
	metrics.ForgetCamera(id.String())
}

// stopAll cancels every worker in parallel and waits out the grace once.
func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("[Supervisor] stopping %d workers", len(s.workers))
	for _, h := range s.workers {
		h.cancel()
	}

	deadline := time.After(s.cfg.ShutdownGrace())
	for id, h := range s.workers {
		select {
		case <-h.done:
		case <-deadline:
			log.Printf("[Supervisor] [ERROR] camera %s: worker did not stop within grace", id)
		}
		delete(s.workers, id)
		metrics.ForgetCamera(id.String())
	}
	metrics.ActiveWorkers.Set(0)
}
