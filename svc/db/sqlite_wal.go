package db

import (
	"context"
	"time"

	"nullbin/svc/util"
)

const (
	walCheckpointInterval = 5 * time.Minute
	walSizeThreshold      = 1000 // pages
)

// StartWALMaintenance periodically checkpoints the write-ahead log so it
// does not grow without bound under a steady write load. Stops when ctx
// is cancelled.
func (s *SQLite) StartWALMaintenance(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(walCheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.checkpointWAL(ctx)
			}
		}
	}()
}

func (s *SQLite) checkpointWAL(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var busy, logPages, checkpointed int
	err := s.db.QueryRowContext(queryCtx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &logPages, &checkpointed)
	if err != nil {
		util.Warn().Err(err).Msg("WAL checkpoint failed")
		return
	}
	if logPages > walSizeThreshold {
		// Passive checkpoint fell behind, force a restart so the log
		// can be truncated on the next cycle.
		_, err = s.db.ExecContext(queryCtx, "PRAGMA wal_checkpoint(RESTART)")
		if err != nil {
			util.Warn().Err(err).Msg("WAL restart checkpoint failed")
			return
		}
	}
	util.Debug().
		Int("log_pages", logPages).
		Int("checkpointed", checkpointed).
		Bool("was_busy", busy == 1).
		Msg("WAL checkpoint complete")
}
