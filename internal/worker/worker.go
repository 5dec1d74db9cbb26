package worker

import (
	"context"
	"errors"
	"image"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-siteguard/internal/annotate"
	"github.com/technosupport/ts-siteguard/internal/bus"
	"github.com/technosupport/ts-siteguard/internal/config"
	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/metrics"
	"github.com/technosupport/ts-siteguard/internal/source"
	"github.com/technosupport/ts-siteguard/internal/vision"
)

// statusTimeout bounds store writes made from worker teardown paths,
// which often run after the worker context is already canceled.
const statusTimeout = 5 * time.Second

// CameraStatusStore mirrors worker state into the cameras table.
type CameraStatusStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status, lastErr string) error
}

// Worker owns one camera pipeline: source lifecycle, stream loop,
// annotation and frame publishing. Inference is delegated to the
// dispatcher through the runtime's single-flight gate.
type Worker struct {
	rt         *Runtime
	bus        *bus.Bus
	store      CameraStatusStore
	resolver   *source.Resolver
	dispatcher *Dispatcher
	cfg        config.Pipeline
}

// New assembles a worker around an existing runtime.
func New(rt *Runtime, b *bus.Bus, store CameraStatusStore, resolver *source.Resolver, dispatcher *Dispatcher, cfg config.Pipeline) *Worker {
	return &Worker{rt: rt, bus: b, store: store, resolver: resolver, dispatcher: dispatcher, cfg: cfg}
}

// Runtime exposes the worker's runtime to the supervisor.
func (w *Worker) Runtime() *Runtime {
	return w.rt
}

// Run drives the state machine until the context ends or the source is
// unrecoverable. Terminal states are stopped (cancel) and error
// (exhausted fallback chain); error workers stay down until the next
// reconcile pass replaces them.
func (w *Worker) Run(ctx context.Context) {
	cam := w.rt.Camera()
	log.Printf("[Worker] camera %s (%s): starting", cam.ID, cam.Name)
	defer w.teardown()

	for ctx.Err() == nil {
		w.transition(StateConnecting, "")
		metrics.RecordSourceReconnect(cam.ID.String())

		width, height := w.rt.InferenceSize()
		camSnapshot := w.rt.Camera()
		src, firstFrame, notes, err := w.resolver.Connect(ctx, &camSnapshot, width, height)
		for _, note := range notes {
			log.Printf("[Worker] camera %s: source fallback: %s", cam.ID, note)
		}
		if err != nil {
			if errors.Is(err, source.ErrSourceExhausted) {
				w.transition(StateError, firstNote(notes))
				log.Printf("[Worker] [ERROR] camera %s: no usable source", cam.ID)
				return
			}
			// Context canceled mid-connect.
			return
		}

		// Fallback notes were already logged; last_error stays clear while
		// the camera is healthy.
		w.transition(StateStreaming, "")
		log.Printf("[Worker] camera %s: streaming from %s", cam.ID, src.Describe())

		err = w.streamLoop(ctx, src, firstFrame)
		src.Close()
		if err != nil && ctx.Err() == nil {
			// Steady-state read failure: release the handle and reconnect.
			log.Printf("[Worker] camera %s: stream interrupted: %v", cam.ID, err)
		}
	}
}

// streamLoop runs the per-iteration contract: resize, maybe dispatch
// inference, annotate with the latest detections, encode, publish,
// refresh the meta hash, then sleep out the rest of the frame period.
// Returns nil only when the context ends.
func (w *Worker) streamLoop(ctx context.Context, src source.Source, frame *image.RGBA) error {
	for {
		iterStart := time.Now()

		cam := w.rt.Camera()
		width := config.ClampInferenceSize(cam.InferenceWidth)
		height := config.ClampInferenceSize(cam.InferenceHeight)
		resized := annotate.Resize(frame, width, height)

		if cam.InferenceEnabled && w.rt.TryBeginInference(iterStart) {
			w.dispatcher.Dispatch(ctx, w.rt, annotate.Clone(resized))
		}

		var dets []vision.Detection
		if cam.InferenceEnabled {
			dets = w.rt.Detections()
		}
		opts := annotate.Options{
			Mode:             cam.DetectionMode,
			Zone:             cam.ZonePolygon,
			InferenceEnabled: cam.InferenceEnabled,
		}
		opts.Render(resized, dets)

		jpegBytes, err := annotate.EncodeJPEG(resized, w.cfg.StreamJPEGQuality)
		if err != nil {
			log.Printf("[Worker] [ERROR] camera %s: encode frame: %v", cam.ID, err)
		} else {
			if err := w.bus.PublishFrame(ctx, cam.ID.String(), jpegBytes); err != nil {
				// Frame dropped after the bus retry; the loop keeps going.
				log.Printf("[Worker] [ERROR] camera %s: %v", cam.ID, err)
			} else {
				metrics.RecordFramePublished(cam.ID.String())
			}
		}

		w.rt.TickFrame(iterStart)
		if err := w.bus.SetCameraMeta(ctx, cam.ID.String(), w.rt.Meta()); err != nil {
			log.Printf("[Worker] [ERROR] camera %s: %v", cam.ID, err)
		}

		// Rate-limit to the stream cap; sources slower than the cap pace
		// the loop themselves via ReadFrame.
		period := time.Duration(float64(time.Second) / w.cfg.StreamFPSMax)
		if elapsed := time.Since(iterStart); elapsed < period {
			timer := time.NewTimer(period - elapsed)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
		}

		frame, err = src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func firstNote(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	return notes[0]
}

// transition moves the state machine and mirrors the new state into the
// store. idle and stopped both surface as offline.
func (w *Worker) transition(state, lastErr string) {
	w.rt.setState(state, lastErr)

	status := state
	if state == StateIdle || state == StateStopped {
		status = data.StatusOffline
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	cam := w.rt.Camera()
	if err := w.store.UpdateStatus(ctx, cam.ID, status, lastErr); err != nil {
		log.Printf("[Worker] [ERROR] camera %s: mirror status %s: %v", cam.ID, status, err)
	}
}

// teardown marks the camera offline and clears its live registers so
// viewers stop rendering the final frame.
func (w *Worker) teardown() {
	cam := w.rt.Camera()
	w.transition(StateStopped, w.rt.LastError())

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := w.bus.ClearCamera(ctx, cam.ID.String()); err != nil {
		log.Printf("[Worker] [ERROR] camera %s: clear bus registers: %v", cam.ID, err)
	}
	log.Printf("[Worker] camera %s: stopped", cam.ID)
}
