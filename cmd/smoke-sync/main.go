package main

import (
	"context"
	"log"
	"os"
	"time"

	"studiodesk.app/internal/board"
	"studiodesk.app/internal/config"
	"studiodesk.app/internal/identity"
	"studiodesk.app/internal/notify"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/remote"
	"studiodesk.app/internal/session"
)

// smoke-sync signs in against a live deployment and exercises the optimistic
// column store end to end: fetch, create, reorder, delete.
func main() {
	log.SetFlags(0)
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	email := os.Getenv("STUDIODESK_SMOKE_EMAIL")
	password := os.Getenv("STUDIODESK_SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("missing STUDIODESK_SMOKE_EMAIL / STUDIODESK_SMOKE_PASSWORD")
	}

	svc := remote.NewClient(cfg.ServiceURL, cfg.APIKey,
		remote.WithRateLimit(cfg.RatePerSec, cfg.RateBurst))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if _, err := svc.SignIn(ctx, email, password); err != nil {
		log.Fatalf("sign in: %v", err)
	}

	resolver := identity.NewResolver(svc)
	manager := session.NewManager(svc, resolver, session.WithBootTimeout(cfg.BootTimeout))
	manager.Initialize(ctx)

	userID, ownerID, ok := manager.CurrentScope()
	if !ok {
		log.Fatal("identity did not resolve")
	}
	log.Printf("signed in as %s, operating on %s", userID, ownerID)

	columns := board.NewColumnStore(svc, manager, notify.Logged())

	before := columns.Fetch(ctx, board.FetchOptions{Force: true})
	log.Printf("%d columns before", len(before))

	if !columns.Create(ctx, "smoke-sync probe") {
		log.Fatal("create failed")
	}
	after, _ := columns.Snapshot()
	if len(after) != len(before)+1 {
		log.Fatalf("expected %d columns after create, got %d", len(before)+1, len(after))
	}

	reversed := make([]string, 0, len(after))
	for i := len(after) - 1; i >= 0; i-- {
		reversed = append(reversed, after[i].ID)
	}
	if !columns.Reorder(ctx, reversed) {
		log.Fatal("reorder failed")
	}

	snapshot, _ := columns.Snapshot()
	var probeID string
	for _, col := range snapshot {
		if col.Title == "smoke-sync probe" {
			probeID = col.ID
		}
	}
	if probeID == "" {
		log.Fatal("probe column missing after reorder")
	}
	if !columns.Delete(ctx, probeID) {
		log.Fatal("delete failed")
	}

	final := columns.Fetch(ctx, board.FetchOptions{Force: true})
	if len(final) != len(before) {
		log.Fatalf("expected %d columns after cleanup, got %d", len(before), len(final))
	}
	log.Println("smoke-sync OK")
}
