package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/petrijr/questflow/internal/storage"
	"github.com/petrijr/questflow/pkg/api"
)

// PurgeStale removes every stored copy in the store's namespace whose last
// save is older than the staleness window. It is meant to run once at
// startup, before users resume their sessions, and returns the number of
// keys removed. Copies that cannot be parsed are left to Restore.
func (st *Store) PurgeStale(ctx context.Context) (int, error) {
	keys, err := st.cfg.Storage.Keys(ctx, st.cfg.KeyPrefix)
	if err != nil {
		return 0, &api.StorageError{Op: "list", Key: st.cfg.KeyPrefix, Err: err}
	}

	var (
		removed int
		errs    []error
	)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		raw, err := st.cfg.Storage.Get(ctx, k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s, err := Decode(raw)
		if err != nil || !st.isStale(s) {
			continue
		}
		if err := st.cfg.Storage.Remove(ctx, k); err != nil {
			errs = append(errs, &api.StorageError{Op: "remove", Key: k, Err: err})
			continue
		}
		removed++
	}

	if removed > 0 {
		st.logger.InfoContext(ctx, "session_purged_stale",
			slog.String("prefix", st.cfg.KeyPrefix),
			slog.Int("removed", removed),
		)
	}
	return removed, errors.Join(errs...)
}
