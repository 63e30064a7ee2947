package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/petrijr/questflow/internal/storage"
	"github.com/petrijr/questflow/pkg/api"
)

// EvictionPolicy decides which other sessions in the store's namespace may
// be removed to make room when a write fails with a full medium. Keys
// outside the namespace are never touched.
type EvictionPolicy struct {
	maxAge time.Duration
}

// EvictAllOthers removes every other session in the namespace. It is the
// default.
var EvictAllOthers = EvictionPolicy{}

// EvictOlderThan only removes sessions whose last save is older than age,
// plus copies that can no longer be parsed.
func EvictOlderThan(age time.Duration) EvictionPolicy {
	return EvictionPolicy{maxAge: age}
}

func (p EvictionPolicy) String() string {
	if p.maxAge <= 0 {
		return "all-others"
	}
	return "older-than-" + p.maxAge.String()
}

func (p EvictionPolicy) evicts(now time.Time, s *api.Session) bool {
	if p.maxAge <= 0 || s == nil {
		return true
	}
	return now.Sub(s.LastSavedAt) > p.maxAge
}

// evictOthers removes the namespace's keys that do not belong to userID and
// that the policy allows. It returns how many keys were removed.
func (st *Store) evictOthers(ctx context.Context, userID string) (int, error) {
	keys, err := st.cfg.Storage.Keys(ctx, st.cfg.KeyPrefix)
	if err != nil {
		return 0, &api.StorageError{Op: "list", Key: st.cfg.KeyPrefix, Err: err}
	}

	primary, backup := st.keys(userID)
	now := st.cfg.Clock.Now()

	var (
		removed int
		errs    []error
	)
	for _, k := range keys {
		if k == primary || k == backup {
			continue
		}
		if st.cfg.Eviction.maxAge > 0 {
			raw, err := st.cfg.Storage.Get(ctx, k)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			// Unparsable copies are nil here and always evictable.
			sess, _ := Decode(raw)
			if !st.cfg.Eviction.evicts(now, sess) {
				continue
			}
		}
		if err := st.cfg.Storage.Remove(ctx, k); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	st.logger.WarnContext(ctx, "session_evicted_others",
		slog.String("user_id", userID),
		slog.String("policy", st.cfg.Eviction.String()),
		slog.Int("removed", removed),
	)
	return removed, errors.Join(errs...)
}
