//go:build ignore

// Subscribes to one camera's frame channel and prints what arrives.
// Handy for checking that a worker is publishing without standing up
// streamd:
//
//	go run scripts/probe_bus.go <camera-id>
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-siteguard/internal/bus"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: probe_bus.go <camera-id>")
		os.Exit(1)
	}
	cameraID := os.Args[1]

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frameBus := bus.New(rdb, nil, 0)

	meta, err := frameBus.CameraMeta(ctx, cameraID)
	if err != nil {
		log.Fatalf("meta: %v", err)
	}
	fmt.Printf("meta: %v\n", meta)

	sub, err := frameBus.SubscribeFrames(ctx, cameraID)
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	fmt.Printf("subscribed to frames:%s\n", cameraID)
	count := 0
	start := time.Now()
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			count++
			fmt.Printf("frame %d: %d bytes (%.1f fps)\n",
				count, len(frame), float64(count)/time.Since(start).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
