//go:build ignore

// Seeds a demo organization with a handful of cameras so a fresh
// deployment has something to show. Run against a migrated database:
//
//	DB_USER=siteguard DB_PASSWORD=... go run scripts/seed_demo_data.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/vision"
)

func main() {
	db, err := sql.Open("postgres", dsn())
	if err != nil {
		log.Fatalf("DB open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	var orgID string
	err = db.QueryRowContext(ctx,
		`INSERT INTO organizations (name) VALUES ($1) RETURNING id`,
		"Demo Construction Co").Scan(&orgID)
	if err != nil {
		log.Fatalf("insert organization: %v", err)
	}
	fmt.Printf("organization: %s\n", orgID)

	org, err := uuid.Parse(orgID)
	if err != nil {
		log.Fatalf("parse org id: %v", err)
	}

	cameras := []*data.Camera{
		{
			OrgID:            org,
			Name:             "Main Gate",
			ZoneLabel:        "Entrance",
			SourceKind:       data.SourceDemo,
			InferenceEnabled: true,
			DetectionMode:    data.ModePPEOnly,
			TargetFPS:        0.5,
			InferenceWidth:   320,
			InferenceHeight:  320,
			ConfThreshold:    0.25,
			IsActive:         true,
		},
		{
			OrgID:            org,
			Name:             "Crane Pad",
			ZoneLabel:        "Lifting Area",
			SourceKind:       data.SourceDemo,
			InferenceEnabled: true,
			DetectionMode:    data.ModeBoth,
			ZonePolygon: []vision.Point{
				{X: 40, Y: 60}, {X: 280, Y: 60}, {X: 280, Y: 300}, {X: 40, Y: 300},
			},
			TargetFPS:       1,
			InferenceWidth:  320,
			InferenceHeight: 320,
			ConfThreshold:   0.3,
			IsActive:        true,
		},
		{
			OrgID:            org,
			Name:             "Storage Yard",
			ZoneLabel:        "Restricted",
			SourceKind:       data.SourceDemo,
			InferenceEnabled: true,
			DetectionMode:    data.ModeZoneOnly,
			ZonePolygon: []vision.Point{
				{X: 0, Y: 120}, {X: 320, Y: 120}, {X: 320, Y: 320}, {X: 0, Y: 320},
			},
			TargetFPS:       0.5,
			InferenceWidth:  320,
			InferenceHeight: 320,
			ConfThreshold:   0.25,
			IsActive:        true,
		},
	}

	model := data.CameraModel{DB: db}
	for _, cam := range cameras {
		if err := model.Create(ctx, cam); err != nil {
			log.Fatalf("insert camera %s: %v", cam.Name, err)
		}
		fmt.Printf("camera: %s (%s)\n", cam.ID, cam.Name)
	}
	fmt.Println("done")
}

func dsn() string {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	dbname := getEnv("DB_NAME", "siteguard")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
