// streamd relays annotated frames and event notifications from the bus
// to browsers: MJPEG per camera through shared broadcasters, events per
// organization over WebSocket, plus the read API for the dashboard.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-siteguard/internal/bus"
	"github.com/technosupport/ts-siteguard/internal/config"
	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/platform/paths"
	"github.com/technosupport/ts-siteguard/internal/ratelimit"
	"github.com/technosupport/ts-siteguard/internal/streamd"
)

const serviceName = "siteguard-streamd"

func main() {
	log.Printf("[Streamd] %s starting", serviceName)

	cfg, err := config.Load(paths.ResolveConfigPath(os.Getenv("PIPELINE_CONFIG")))
	if err != nil {
		log.Fatalf("[Streamd] config: %v", err)
	}

	db, err := sql.Open("postgres", postgresDSN())
	if err != nil {
		log.Fatalf("[Streamd] DB open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("[Streamd] DB ping: %v", err)
	}

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("[Streamd] Redis ping: %v", err)
	}

	natsURL := getEnv("NATS_URL", nats.DefaultURL)
	nc, err := nats.Connect(natsURL, nats.Name(serviceName), nats.MaxReconnects(-1))
	if err != nil {
		log.Printf("[Streamd] [ERROR] NATS connect: %v (event push unavailable)", err)
		nc = nil
	} else {
		defer nc.Close()
	}

	frameBus := bus.New(rdb, nc, 1)
	server := &streamd.Server{
		Bus:      frameBus,
		Registry: streamd.NewRegistry(frameBus, cfg.BroadcastQueueDepth),
		Events:   data.EventModel{DB: db},
		Stats:    data.StatsModel{DB: db},
		Limiter:  ratelimit.NewLimiter(rdb, getEnv("RATELIMIT_SALT", "")),
		Access: streamd.AccessConfig{
			ServiceToken: os.Getenv("SERVICE_TOKEN"),
			ViewerToken:  os.Getenv("VIEWER_TOKEN"),
		},
	}
	if server.Access.ServiceToken == "" && server.Access.ViewerToken == "" {
		log.Printf("[Streamd] [ERROR] no SERVICE_TOKEN or VIEWER_TOKEN set, using dev token")
		server.Access.ViewerToken = "dev-viewer-token"
	}

	srv := &http.Server{
		Addr:              ":" + getEnv("STREAMD_PORT", "8085"),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[Streamd] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Streamd] server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	log.Printf("[Streamd] shutdown complete")
}

func postgresDSN() string {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	dbname := getEnv("DB_NAME", "siteguard")
	sslmode := getEnv("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
