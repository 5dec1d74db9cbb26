// Package bus is the fan-out surface between camera workers and stream
// consumers. Redis carries the frame-rate surfaces (frame pub/sub plus
// TTL'd latest-frame and camera-meta registers); NATS carries the
// durable-ish event surface on per-organization subjects.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-siteguard/internal/metrics"
)

const (
	// FrameTTL bounds how stale a latest-frame snapshot can get before
	// readers see nothing instead.
	FrameTTL = 10 * time.Second

	// MetaTTL bounds the camera-meta hash; a worker that dies stops
	// refreshing it and the hash evaporates.
	MetaTTL = 30 * time.Second
)

// ErrNoFrame is returned when no fresh frame exists for a camera.
var ErrNoFrame = errors.New("bus: no recent frame")

// Bus owns both brokers. The NATS connection may be nil; event publishes
// then become logged no-ops so a broker outage never stalls a pipeline.
type Bus struct {
	rdb          *redis.Client
	nc           *nats.Conn
	eventRetries int
}

// New builds a Bus. eventRetries is how many times an event publish is
// retried after the first failure.
func New(rdb *redis.Client, nc *nats.Conn, eventRetries int) *Bus {
	if eventRetries < 0 {
		eventRetries = 0
	}
	return &Bus{rdb: rdb, nc: nc, eventRetries: eventRetries}
}

func frameChannel(cameraID string) string {
	return fmt.Sprintf("frames:%s", cameraID)
}

func latestFrameKey(cameraID string) string {
	return fmt.Sprintf("latest_frame:%s", cameraID)
}

func cameraMetaKey(cameraID string) string {
	return fmt.Sprintf("camera_meta:%s", cameraID)
}

// EventSubject is the NATS subject for one organization's events.
func EventSubject(orgID string) string {
	return fmt.Sprintf("events.%s", orgID)
}

// PublishFrame fans a JPEG frame out to live subscribers and refreshes
// the latest-frame register in one pipeline round trip. A transient
// failure is retried once; after that the frame is dropped, losing a
// frame is cheaper than stalling the capture loop.
func (b *Bus) PublishFrame(ctx context.Context, cameraID string, jpeg []byte) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		pipe := b.rdb.Pipeline()
		pipe.Publish(ctx, frameChannel(cameraID), jpeg)
		pipe.Set(ctx, latestFrameKey(cameraID), jpeg, FrameTTL)
		if _, err = pipe.Exec(ctx); err == nil {
			return nil
		}
	}
	metrics.RecordBusPublishError("frames")
	return fmt.Errorf("bus: publish frame for %s: %w", cameraID, err)
}

// LatestFrame returns the most recent frame for a camera, or ErrNoFrame
// when the register expired.
func (b *Bus) LatestFrame(ctx context.Context, cameraID string) ([]byte, error) {
	raw, err := b.rdb.Get(ctx, latestFrameKey(cameraID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoFrame
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SetCameraMeta refreshes the camera's live metadata hash and its TTL.
func (b *Bus) SetCameraMeta(ctx context.Context, cameraID string, meta map[string]any) error {
	pipe := b.rdb.Pipeline()
	pipe.HSet(ctx, cameraMetaKey(cameraID), meta)
	pipe.Expire(ctx, cameraMetaKey(cameraID), MetaTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordBusPublishError("meta")
		return fmt.Errorf("bus: set meta for %s: %w", cameraID, err)
	}
	return nil
}

// CameraMeta reads the live metadata hash. An expired or absent hash
// returns an empty map, not an error.
func (b *Bus) CameraMeta(ctx context.Context, cameraID string) (map[string]string, error) {
	return b.rdb.HGetAll(ctx, cameraMetaKey(cameraID)).Result()
}

// ClearCamera removes the frame and meta registers for a camera. Called
// when a worker is torn down so readers stop seeing its last frame.
func (b *Bus) ClearCamera(ctx context.Context, cameraID string) error {
	return b.rdb.Del(ctx, latestFrameKey(cameraID), cameraMetaKey(cameraID)).Err()
}

// FrameSubscription is one live frame feed for a camera.
type FrameSubscription struct {
	pubsub *redis.PubSub
	frames chan []byte
	done   chan struct{}
}

// Frames delivers JPEG frames until Close. The channel is closed when the
// subscription ends.
func (s *FrameSubscription) Frames() <-chan []byte {
	return s.frames
}

// Close tears the subscription down. Safe to call more than once.
func (s *FrameSubscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.pubsub.Close()
}

// SubscribeFrames opens a live frame feed for one camera.
func (b *Bus) SubscribeFrames(ctx context.Context, cameraID string) (*FrameSubscription, error) {
	pubsub := b.rdb.Subscribe(ctx, frameChannel(cameraID))
	// Force the subscription onto the wire before the caller relies on it.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("bus: subscribe frames for %s: %w", cameraID, err)
	}

	sub := &FrameSubscription{
		pubsub: pubsub,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.frames)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				payload := []byte(msg.Payload)
				select {
				case sub.frames <- payload:
				case <-sub.done:
					return
				default:
					// Reader is behind; replace the buffered frame so it
					// always gets the newest one.
					select {
					case <-sub.frames:
					default:
					}
					select {
					case sub.frames <- payload:
					default:
					}
				}
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}

// PublishEvent sends a materialized event to the organization's subject.
// Retried per the configured budget with linear backoff; with no NATS
// connection the event is logged and dropped.
func (b *Bus) PublishEvent(orgID string, payload []byte) error {
	if b.nc == nil {
		log.Printf("[Bus] [DEBUG] no NATS connection, dropping event for org %s", orgID)
		return nil
	}

	subject := EventSubject(orgID)
	var err error
	for i := 0; i <= b.eventRetries; i++ {
		err = b.nc.Publish(subject, payload)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	metrics.RecordBusPublishError("events")
	return fmt.Errorf("bus: publish event after %d retries: %w", b.eventRetries, err)
}

// SubscribeEvents delivers an organization's event payloads to handler
// until the returned subscription is unsubscribed.
func (b *Bus) SubscribeEvents(orgID string, handler func(payload []byte)) (*nats.Subscription, error) {
	if b.nc == nil {
		return nil, errors.New("bus: no NATS connection")
	}
	return b.nc.Subscribe(EventSubject(orgID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}
