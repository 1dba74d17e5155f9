package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studiodesk.app/internal/board"
	"studiodesk.app/internal/config"
	"studiodesk.app/internal/identity"
	"studiodesk.app/internal/notify"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/remote"
	"studiodesk.app/internal/session"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var svc remote.Service
	if cfg.DemoMode {
		svc = demoService()
	} else {
		svc = remote.NewClient(cfg.ServiceURL, cfg.APIKey,
			remote.WithRateLimit(cfg.RatePerSec, cfg.RateBurst))
	}

	cache, err := session.NewCache()
	if err != nil {
		obs.LogError("session.cache_init", err, nil)
	}

	resolver := identity.NewResolver(svc)
	notifier := notify.Logged()
	manager := session.NewManager(svc, resolver,
		session.WithCache(cache),
		session.WithNotifier(notifier),
		session.WithBootTimeout(cfg.BootTimeout),
		session.WithAfterSignOut(func() {
			obs.LogEvent("session.signed_out", nil)
		}),
	)

	columns := board.NewColumnStore(svc, manager, notifier)
	videos := board.NewVideoStore(svc, manager, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go manager.Run(ctx)
	go logStateChanges(ctx, manager)

	manager.Initialize(ctx)

	if cfg.DemoMode {
		if _, err := svc.SignIn(ctx, demoEmail, demoPassword); err != nil {
			log.Fatalf("demo sign-in: %v", err)
		}
		// The signed-in event resolves identity asynchronously.
		waitForScope(ctx, manager, 2*time.Second)
	}

	// Warm the board once identity is in place.
	if _, _, ok := manager.CurrentScope(); ok {
		cols := columns.Fetch(ctx, board.FetchOptions{})
		vids := videos.Fetch(ctx, board.FetchOptions{})
		obs.LogEvent("board.warmed", map[string]any{"columns": len(cols), "videos": len(vids)})
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           observability(manager),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting studiodesk %s, observability on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

// observability serves the scrape endpoint and a small health surface.
func observability(manager *session.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := manager.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"loading":   st.Loading,
			"signed_in": st.User != nil,
		})
	})
	return mux
}

func waitForScope(ctx context.Context, manager *session.Manager, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if _, _, ok := manager.CurrentScope(); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func logStateChanges(ctx context.Context, manager *session.Manager) {
	for st := range manager.Subscribe(ctx) {
		fields := map[string]any{"loading": st.Loading, "signed_in": st.User != nil}
		if st.User != nil {
			fields["user_id"] = st.User.ID
			fields["owner_id"] = st.Identity.OwnerID
			fields["is_owner"] = st.Identity.IsOwner
		}
		obs.LogEvent("session.state", fields)
	}
}

const (
	demoEmail    = "owner@studiodesk.local"
	demoPassword = "demo"
)

// demoService seeds an in-memory service with a small board.
func demoService() *remote.InMemory {
	svc := remote.NewInMemory()
	owner := svc.SeedUser(demoEmail, demoPassword)
	svc.Seed("profiles", remote.Row{"id": owner.ID, "full_name": "Demo Owner"})
	svc.Seed("board_columns",
		remote.Row{"user_id": owner.ID, "title": "Idea", "position": 0},
		remote.Row{"user_id": owner.ID, "title": "Script", "position": 1},
		remote.Row{"user_id": owner.ID, "title": "Edit", "position": 2},
		remote.Row{"user_id": owner.ID, "title": "Published", "position": 3},
	)
	svc.RegisterFunction("encrypt-credential", func(payload json.RawMessage) (any, error) {
		return json.RawMessage(payload), nil
	})
	svc.RegisterFunction("decrypt-credential", func(payload json.RawMessage) (any, error) {
		return json.RawMessage(payload), nil
	})
	return svc
}
