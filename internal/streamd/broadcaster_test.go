package streamd

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-siteguard/internal/bus"
)

func testBus(t *testing.T) (*bus.Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return bus.New(rdb, nil, 0), mr
}

func recvFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case frame, ok := <-ch:
		require.True(t, ok, "frame channel closed unexpectedly")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestRegistryFansOutToAllViewers(t *testing.T) {
	frameBus, _ := testBus(t)
	reg := NewRegistry(frameBus, 5)
	ctx := context.Background()

	ch1, cancel1, err := reg.Subscribe(ctx, "cam-1")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := reg.Subscribe(ctx, "cam-1")
	require.NoError(t, err)
	defer cancel2()

	require.Equal(t, 1, reg.ActiveCameras(), "viewers of one camera share a subscription")

	require.NoError(t, frameBus.PublishFrame(ctx, "cam-1", []byte("jpeg-1")))

	require.Equal(t, []byte("jpeg-1"), recvFrame(t, ch1))
	require.Equal(t, []byte("jpeg-1"), recvFrame(t, ch2))
}

func TestRegistryIsolatesCameras(t *testing.T) {
	frameBus, _ := testBus(t)
	reg := NewRegistry(frameBus, 5)
	ctx := context.Background()

	chA, cancelA, err := reg.Subscribe(ctx, "cam-a")
	require.NoError(t, err)
	defer cancelA()
	chB, cancelB, err := reg.Subscribe(ctx, "cam-b")
	require.NoError(t, err)
	defer cancelB()

	require.Equal(t, 2, reg.ActiveCameras())

	require.NoError(t, frameBus.PublishFrame(ctx, "cam-b", []byte("b-frame")))
	require.Equal(t, []byte("b-frame"), recvFrame(t, chB))

	select {
	case frame := <-chA:
		t.Fatalf("cam-a viewer received foreign frame %q", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistrySlowViewerDropsFrames(t *testing.T) {
	frameBus, _ := testBus(t)
	depth := 3
	reg := NewRegistry(frameBus, depth)
	ctx := context.Background()

	ch, cancel, err := reg.Subscribe(ctx, "cam-1")
	require.NoError(t, err)
	defer cancel()

	// Nobody reads; the queue fills to its bound and stays there.
	for i := 0; i < depth*3; i++ {
		require.NoError(t, frameBus.PublishFrame(ctx, "cam-1", []byte{byte(i)}))
	}

	require.Eventually(t, func() bool {
		return len(ch) == depth
	}, 2*time.Second, 10*time.Millisecond, "queue must cap at its depth")
}

func TestRegistryReleaseRefCounting(t *testing.T) {
	frameBus, _ := testBus(t)
	reg := NewRegistry(frameBus, 5)
	ctx := context.Background()

	_, cancel1, err := reg.Subscribe(ctx, "cam-1")
	require.NoError(t, err)
	_, cancel2, err := reg.Subscribe(ctx, "cam-1")
	require.NoError(t, err)

	cancel1()
	require.Equal(t, 1, reg.ActiveCameras(), "subscription outlives the first viewer")

	cancel2()
	require.Equal(t, 0, reg.ActiveCameras(), "last viewer tears the subscription down")

	// Releasing twice is safe.
	cancel2()

	// A new viewer rebuilds the broadcaster from scratch.
	ch, cancel3, err := reg.Subscribe(ctx, "cam-1")
	require.NoError(t, err)
	defer cancel3()
	require.Equal(t, 1, reg.ActiveCameras())

	require.NoError(t, frameBus.PublishFrame(ctx, "cam-1", []byte("fresh")))
	require.Equal(t, []byte("fresh"), recvFrame(t, ch))
}

func TestRegistryViewerChannelClosedOnRelease(t *testing.T) {
	frameBus, _ := testBus(t)
	reg := NewRegistry(frameBus, 5)

	ch, cancel, err := reg.Subscribe(context.Background(), "cam-1")
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-ch:
		require.False(t, open, "release must close the viewer channel")
	case <-time.After(time.Second):
		t.Fatal("viewer channel not closed")
	}
}
