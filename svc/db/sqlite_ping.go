package db

import (
	"context"
	"time"
)

// Ping verifies store liveness with a cheap query. Used by readiness
// checks, so it gets its own short timeout.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	err := s.db.QueryRowContext(pingCtx, `SELECT 1`).Scan(&one)
	s.recordError(err)
	return err
}
