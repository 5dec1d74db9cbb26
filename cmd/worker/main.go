// The worker owns every camera pipeline in the deployment: ingest,
// shared-model inference, annotation, event materialization and frame
// publishing. One process per site; the supervisor reconciles its
// workers against the cameras table.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-siteguard/internal/bus"
	"github.com/technosupport/ts-siteguard/internal/config"
	"github.com/technosupport/ts-siteguard/internal/crypto"
	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/dedup"
	"github.com/technosupport/ts-siteguard/internal/events"
	"github.com/technosupport/ts-siteguard/internal/platform/paths"
	"github.com/technosupport/ts-siteguard/internal/source"
	"github.com/technosupport/ts-siteguard/internal/vision"
	"github.com/technosupport/ts-siteguard/internal/worker"
)

const serviceName = "siteguard-worker"

func main() {
	log.Printf("[Worker] %s starting", serviceName)

	if err := paths.EnsureDirs(); err != nil {
		log.Fatalf("[Worker] platform init: %v", err)
	}

	cfg, err := config.Load(paths.ResolveConfigPath(os.Getenv("PIPELINE_CONFIG")))
	if err != nil {
		log.Fatalf("[Worker] config: %v", err)
	}

	// Store
	db, err := sql.Open("postgres", postgresDSN())
	if err != nil {
		log.Fatalf("[Worker] DB open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("[Worker] DB ping: %v", err)
	}

	// Bus
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("[Worker] Redis ping: %v", err)
	}

	natsURL := getEnv("NATS_URL", nats.DefaultURL)
	nc, err := nats.Connect(natsURL, nats.Name(serviceName), nats.MaxReconnects(-1))
	if err != nil {
		log.Printf("[Worker] [ERROR] NATS connect: %v (events will be dropped)", err)
		nc = nil
	} else {
		defer nc.Close()
	}
	eventBus := bus.New(rdb, nc, 1)

	// Credentials
	key, err := crypto.LoadMasterKey()
	var cipher *crypto.CredentialCipher
	if err != nil {
		log.Printf("[Worker] [ERROR] credential key: %v (RTSP credentials unavailable)", err)
	} else {
		cipher, err = crypto.NewCredentialCipher(key)
		if err != nil {
			log.Fatalf("[Worker] credential cipher: %v", err)
		}
	}

	// Detector + hot reload
	model := vision.NewSharedModel(paths.ResolveWeightsPath())
	watcher, err := vision.NewWeightsWatcher(paths.ResolveWeightsPath(), model)
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		log.Printf("[Worker] [ERROR] weights watcher: %v (hot reload disabled)", err)
	} else {
		defer watcher.Stop()
	}

	// Pipeline components
	deduper := dedup.New(cfg.Cooldown(), cfg.DedupGrid)
	materializer := &events.Materializer{
		Dedup:    deduper,
		Events:   data.EventModel{DB: db},
		Stats:    data.StatsModel{DB: db},
		Tracking: data.TrackingModel{DB: db},
		Bus:      eventBus,
		Thumbs:   &events.Thumbnailer{Dir: paths.ResolveThumbnailDir(), Quality: cfg.ThumbJPEGQuality},
	}
	dispatcher := &worker.Dispatcher{Model: model, Materializer: materializer}
	resolver := &source.Resolver{
		Cipher:     cipher,
		DemoURL:    cfg.DemoVideoURL,
		MaxRetries: cfg.SourceMaxRetries,
		BaseDelay:  cfg.SourceBaseDelay(),
		MaxDelay:   cfg.SourceMaxDelay(),
	}
	supervisor := worker.NewSupervisor(data.CameraModel{DB: db}, eventBus, resolver, dispatcher, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go deduper.RunCleanup(ctx, time.Minute, dedup.DefaultStaleAge)
	go serveStatus(getEnv("WORKER_STATUS_ADDR", ":8091"))

	log.Printf("[Worker] supervising cameras (refresh %s)", cfg.SupervisorRefresh())
	if err := supervisor.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("[Worker] [ERROR] supervisor: %v", err)
	}
	log.Printf("[Worker] shutdown complete")
}

// serveStatus exposes liveness and metrics on a side port.
func serveStatus(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("[Worker] status server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[Worker] [ERROR] status server: %v", err)
	}
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
