package worker

import (
	"context"
	"image"
	"log"
	"time"

	"github.com/technosupport/ts-siteguard/internal/events"
	"github.com/technosupport/ts-siteguard/internal/metrics"
	"github.com/technosupport/ts-siteguard/internal/vision"
)

// Dispatcher hands frames to the shared model off the stream loop.
// Admission control lives entirely in Runtime.TryBeginInference; by the
// time Dispatch runs, the camera already holds its single in-flight
// slot.
type Dispatcher struct {
	Model        *vision.SharedModel
	Materializer *events.Materializer
}

// Dispatch runs one inference pass as a detached task. The frame is the
// task's private copy. The in-flight marker is released on every path;
// detections are only published on success.
func (d *Dispatcher) Dispatch(ctx context.Context, rt *Runtime, frame *image.RGBA) {
	go func() {
		defer rt.EndInference()

		cam := rt.Camera()
		start := time.Now()
		dets, err := d.Model.Predict(ctx, frame, cam.ConfThreshold)
		metrics.RecordInference(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() == nil {
				metrics.RecordInferenceError()
				log.Printf("[Dispatcher] [ERROR] camera %s inference: %v", cam.ID, err)
			}
			return
		}

		rt.SetDetections(dets)
		rt.TickInference(time.Now())

		if d.Materializer != nil {
			d.Materializer.Process(ctx, events.Job{
				CameraID:    cam.ID,
				OrgID:       cam.OrgID,
				CameraName:  cam.Name,
				Mode:        cam.DetectionMode,
				Zone:        cam.ZonePolygon,
				Detections:  dets,
				Frame:       frame,
				FrameNumber: rt.FramesProcessed(),
			})
		}
	}()
}
