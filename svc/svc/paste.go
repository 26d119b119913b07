package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"nullbin/cfg"
	"nullbin/metrics"
	"nullbin/pkg/domain"
	"nullbin/svc/db"
	"nullbin/svc/util"
)

// Paste implements the paste lifecycle over the SQLite store. The
// server never sees plaintext: content, IVs and salts arrive already
// encoded and are stored as-is.
type Paste struct {
	store         *db.SQLite
	cfg           *cfg.Cfg
	expiry        singleflight.Group
	activeCreates int64
	shutdown      chan struct{}
	opWg          sync.WaitGroup
}

func NewPaste(store *db.SQLite, c *cfg.Cfg) *Paste {
	return &Paste{
		store:    store,
		cfg:      c,
		shutdown: make(chan struct{}),
	}
}

func (s *Paste) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// mapStoreErr translates breaker trips into the wire-level
// storage-unavailable error.
func mapStoreErr(err error) error {
	if errors.Is(err, db.ErrCircuitOpen) {
		return domain.ErrStorageUnavailable
	}
	return err
}

func (s *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if s.isShuttingDown() {
		return nil, domain.ErrStorageUnavailable
	}
	active := atomic.AddInt64(&s.activeCreates, 1)
	defer atomic.AddInt64(&s.activeCreates, -1)
	if active > int64(s.cfg.MaxCreateLoad) {
		util.Warn().Int64("active", active).Msg("create load shedding engaged")
		return nil, domain.ErrRateLimitExceeded
	}
	s.opWg.Add(1)
	defer s.opWg.Done()

	if params.Content == "" || params.IV == "" {
		return nil, domain.ErrMissingFields
	}
	if int64(len(params.Content)) > s.cfg.MaxContentSize {
		return nil, domain.ErrPasteTooLarge
	}
	now := time.Now()
	expiresAt, err := domain.ResolveExpiry(params.Expiry, now)
	if err != nil {
		return nil, err
	}

	id, err := util.GenID(func(candidate string) (bool, error) {
		return s.store.Exists(ctx, candidate)
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	p := &domain.Paste{
		ID:                id,
		Title:             params.Title,
		Content:           params.Content,
		Language:          params.Language,
		CreatedAt:         now.UnixMilli(),
		ExpiresAt:         expiresAt,
		IV:                params.IV,
		Salt:              params.Salt,
		PasswordProtected: params.Salt != "" || params.Password != "",
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, mapStoreErr(err)
	}
	metrics.PasteCreated.Inc()
	metrics.PastesStored.Inc()
	util.Info().
		Str("id", p.ID).
		Str("content", util.RedactCiphertext(p.Content)).
		Bool("password_protected", p.PasswordProtected).
		Msg("paste created")
	return p, nil
}

// Get returns the paste with its view counter already bumped. An
// expired paste is deleted on first touch and reported as gone with
// its expiry time; subsequent reads see not-found.
func (s *Paste) Get(ctx context.Context, id string) (*domain.Paste, error) {
	s.opWg.Add(1)
	defer s.opWg.Done()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			metrics.PasteNotFound.Inc()
		}
		return nil, mapStoreErr(err)
	}
	now := time.Now()
	if p.Expired(now) {
		s.reapExpired(ctx, id, now)
		metrics.PasteExpired.Inc()
		return nil, &domain.ExpiredError{At: time.UnixMilli(*p.ExpiresAt)}
	}
	views, err := s.store.IncrViews(ctx, id)
	if err != nil {
		// Deleted between the read and the increment. Treat as gone.
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, mapStoreErr(err)
	}
	p.ViewCount = views
	metrics.PasteRetrieved.Inc()
	return p, nil
}

// reapExpired deletes an expired record at most once across concurrent
// readers. Failures are logged only; the read path still reports the
// paste as expired and the sweeper will retry.
func (s *Paste) reapExpired(ctx context.Context, id string, now time.Time) {
	_, _, _ = s.expiry.Do(id, func() (interface{}, error) {
		deleted, err := s.store.DeleteExpired(ctx, id, now)
		if err != nil {
			util.Warn().Err(err).Str("id", id).Msg("expired paste delete failed")
			return false, nil
		}
		if deleted {
			metrics.PastesStored.Dec()
		}
		return deleted, nil
	})
}

// Delete removes a paste regardless of expiry. Not exposed over the
// public API; used by operational tooling.
func (s *Paste) Delete(ctx context.Context, id string) (bool, error) {
	s.opWg.Add(1)
	defer s.opWg.Done()
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, mapStoreErr(err)
	}
	if deleted {
		metrics.PastesStored.Dec()
	}
	return deleted, nil
}

// Shutdown stops accepting writes and waits for in-flight operations.
func (s *Paste) Shutdown(ctx context.Context) error {
	close(s.shutdown)
	done := make(chan struct{})
	go func() {
		s.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartCleaner runs the periodic expiry sweep until ctx is cancelled.
// The sweep shares the store's expiry predicate with the lazy read
// path, so both agree on what is expired.
func (s *Paste) StartCleaner(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runCleanup(ctx)
			}
		}
	}()
}

func (s *Paste) runCleanup(ctx context.Context) {
	start := time.Now()
	deleted, err := s.store.CleanupExpired(ctx)
	metrics.PruneCycles.Inc()
	if err != nil {
		util.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if deleted > 0 {
		metrics.PrunedPastes.Add(float64(deleted))
	}
	if count, err := s.store.Count(ctx); err == nil {
		metrics.PastesStored.Set(float64(count))
	}
	util.Debug().
		Int("deleted", deleted).
		Dur("took", time.Since(start)).
		Msg("expiry sweep complete")
}
