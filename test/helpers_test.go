package test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"nullbin/cfg"
	"nullbin/svc/api"
	"nullbin/svc/db"
	"nullbin/svc/lim"
	"nullbin/svc/svc"
)

var envLoadOnce sync.Once

func loadTestEnv() {
	envLoadOnce.Do(func() {
		for _, p := range []string{".env.test", "../.env.test"} {
			if absPath, err := filepath.Abs(p); err == nil {
				if _, err := os.Stat(absPath); err == nil {
					if godotenv.Load(absPath) == nil {
						return
					}
				}
			}
		}
	})
}

type harness struct {
	srv   *api.Server
	store *db.SQLite
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loadTestEnv()

	c := &cfg.Cfg{
		Port:            "8080",
		Environment:     "test",
		BaseURL:         "https://bin.example.com",
		MaxContentSize:  512 * 1024,
		ContextTimeout:  5 * time.Second,
		CleanupInterval: time.Minute,
		MaxCreateLoad:   200,
		RateLimit:       cfg.RateLimitCfg{RPM: 100000, Burst: 100000},
	}
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	limiter, err := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, 100, nil, nil)
	if err != nil {
		t.Fatalf("lim.New: %v", err)
	}
	t.Cleanup(limiter.Stop)

	return &harness{
		srv:   api.NewServer(c, svc.NewPaste(store, c), limiter, store, nil),
		store: store,
	}
}
