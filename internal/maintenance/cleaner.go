package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/dura-io/duraq/internal/storage"
)

// CleanStorage is the subset of storage.Storage Clean needs. It's a plain
// function rather than a startstop.Service: unlike the sweeper and repeat
// engine, cleaning only ever runs on demand via the queue runtime's Clean
// method, never on its own ticker.
type CleanStorage interface {
	GetAllJobs(ctx context.Context) ([]*storage.Job, error)
	RemoveCompleted(ctx context.Context, ids []string) error
}

// Clean physically removes completed jobs older than maxAge from the
// store, per the resolution of the source's ambiguous "clean" semantics:
// this implementation removes records outright rather than relabeling them
// failed. Returns the ids removed, so a caller can also scrub them from any
// in-memory index it keeps (e.g. the queue runtime's completedJobIds set).
func Clean(ctx context.Context, store CleanStorage, maxAge time.Duration, now time.Time, logger *slog.Logger) ([]string, error) {
	jobs, err := store.GetAllJobs(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, job := range jobs {
		if job.Status != storage.StatusCompleted || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) < maxAge {
			continue
		}
		ids = append(ids, job.ID)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if err := store.RemoveCompleted(ctx, ids); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Debug("maintenance: cleaned completed jobs", slog.Int("count", len(ids)))
	}

	return ids, nil
}
