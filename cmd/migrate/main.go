package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/logger"
	"agroscan/internal/repository/firebase"
	"agroscan/internal/repository/sqlite"
	"agroscan/internal/service/identity"
)

// migrate uploads the detections kept in a local SQLite store to the user's
// namespace in the Realtime Database.
func main() {
	cfg := config.Load()

	dbPath := flag.String("db", cfg.DatabasePath, "Local database path")
	email := flag.String("email", os.Getenv("MIGRATE_EMAIL"), "Account email")
	password := flag.String("password", os.Getenv("MIGRATE_PASSWORD"), "Account password")
	deleteLocal := flag.Bool("delete", false, "Delete local records after they are uploaded")
	dryRun := flag.Bool("dry-run", false, "Only report what would be uploaded")
	flag.Parse()

	if cfg.FirebaseAPIKey == "" || cfg.FirebaseDatabaseURL == "" {
		log.Fatalf("FIREBASE_API_KEY and FIREBASE_DATABASE_URL must be set")
	}
	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Local database not found: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	provider := identity.NewFirebaseClient(cfg)
	user, err := provider.SignIn(ctx, *email, *password)
	if err != nil {
		log.Fatalf("Failed to sign in: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	local := sqlite.NewDetectionRepository(db)
	remote := identity.NewRefreshingRepository(firebase.NewDetectionRepository(cfg.FirebaseDatabaseURL, nil), provider, nil, logger.NewDiscard())

	records, err := local.FetchAll(ctx, user.ID)
	if err != nil {
		log.Fatalf("Failed to read local detections: %v", err)
	}

	if len(records) == 0 {
		fmt.Printf("No local detections found for %s\n", user.Email)
		return
	}

	fmt.Printf("Migrating %d detections for %s from %s to %s\n", len(records), user.Email, *dbPath, cfg.FirebaseDatabaseURL)
	if *dryRun {
		for _, r := range records {
			fmt.Printf("   - %s  %s (%.1f%%, %s)\n", r.Date, r.Class, r.Confidence*100, r.Severity)
		}
		return
	}

	uploaded, failed := 0, 0
	for _, r := range records {
		id, err := remote.Append(ctx, user, r)
		if err != nil {
			log.Printf("⚠️  Failed to upload %s: %v", r.ID, err)
			failed++
			continue
		}
		uploaded++

		if *deleteLocal {
			if err := local.DeleteByID(ctx, r.ID); err != nil {
				log.Printf("⚠️  Uploaded %s as %s but could not delete it locally: %v", r.ID, id, err)
			}
		}
	}

	fmt.Printf("✅ Uploaded %d detections\n", uploaded)
	if failed > 0 {
		fmt.Printf("⚠️  %d detections failed to upload\n", failed)
	}

	if remaining, err := local.Count(ctx, user.ID); err == nil {
		fmt.Printf("\n📊 Local records remaining: %d\n", remaining)
	}
}
