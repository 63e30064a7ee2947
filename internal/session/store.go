// Package session keeps one questionnaire session per user in memory and
// persists it to a storage.Storage under a primary and a backup key.
//
// Mutations are applied in memory only. Persistence happens on Save or on
// the auto-save loop, which writes only while there are unsaved changes and
// never runs two saves at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/petrijr/questflow/internal/cancel"
	"github.com/petrijr/questflow/internal/storage"
	"github.com/petrijr/questflow/pkg/api"
)

const (
	DefaultKeyPrefix        = "health-session-"
	DefaultAutoSaveInterval = 15 * time.Second
	DefaultStaleAfter       = 30 * 24 * time.Hour

	DefaultVersion = "1.0"
	DefaultMode    = "standard"

	backupSuffix = "-backup"
)

// Callbacks are the optional caller hooks of a Store. They run on the
// goroutine that triggered them and must not call Stop or Close.
type Callbacks struct {
	// OnAutoSave receives the outcome of every auto-save attempt.
	OnAutoSave func(success bool)

	// OnRestoreSession receives the session Initialize resumed.
	OnRestoreSession func(s *api.Session)
}

// Config configures a Store.
type Config struct {
	// Storage is required.
	Storage storage.Storage

	// UserID binds the store before Initialize, so HasExistingSession can
	// be asked up front.
	UserID string

	// KeyPrefix namespaces every key the store reads or writes.
	KeyPrefix        string
	AutoSaveInterval time.Duration

	// StaleAfter is the maximum age of a stored copy that may be resumed.
	StaleAfter time.Duration

	// Eviction applies when a write fails because the medium is full.
	Eviction EvictionPolicy

	// Retry applies to transient write failures.
	Retry api.RetryPolicy

	// Metadata seeds fresh sessions. StartedAt is always set by the store.
	Metadata api.SessionMetadata

	Callbacks Callbacks

	Clock        clockwork.Clock
	Logger       *slog.Logger
	Observer     api.Observer
	NewSessionID func() string
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = DefaultAutoSaveInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.Metadata.Version == "" {
		c.Metadata.Version = DefaultVersion
	}
	if c.Metadata.Mode == "" {
		c.Metadata.Mode = DefaultMode
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = api.NoopObserver{}
	}
	if c.NewSessionID == nil {
		c.NewSessionID = uuid.NewString
	}
	return c
}

// Store owns the in-memory session of one user and its durable copies.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	userID  string
	current *api.Session
	// rev counts mutations; the session is dirty while rev != savedRev.
	rev      uint64
	savedRev uint64
	// epoch changes whenever the in-memory session is replaced or cleared.
	epoch   uint64
	saving  bool
	lastErr string

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New creates a Store. It does not touch storage.
func New(cfg Config) (*Store, error) {
	if cfg.Storage == nil {
		return nil, errors.New("session: storage is required")
	}
	cfg = cfg.withDefaults()
	return &Store{cfg: cfg, logger: cfg.Logger, userID: cfg.UserID}, nil
}

// ErrReservedUserID reports a user ID whose primary key would be the backup
// key of another user.
var ErrReservedUserID = errors.New("session: user id ends with the backup suffix")

// CheckUserID rejects user IDs that end with the backup suffix. Such an ID
// would share a key with another user, so the store never writes or removes
// keys on its behalf.
func CheckUserID(userID string) error {
	if strings.HasSuffix(userID, backupSuffix) {
		return fmt.Errorf("%w: %q", ErrReservedUserID, userID)
	}
	return nil
}

func (st *Store) keys(userID string) (primary, backup string) {
	primary = st.cfg.KeyPrefix + userID
	return primary, primary + backupSuffix
}

// Initialize binds the store to userID and returns its session: the stored
// copy when one can be resumed, otherwise a fresh session with zero
// progress. sessionID is used for fresh sessions; when empty a new ID is
// generated.
func (st *Store) Initialize(ctx context.Context, userID, sessionID string) *api.Session {
	st.mu.Lock()
	st.userID = userID
	st.mu.Unlock()

	if restored := st.Restore(ctx); restored != nil {
		st.cfg.Observer.OnSessionRestored(ctx, restored)
		if cb := st.cfg.Callbacks.OnRestoreSession; cb != nil {
			cb(restored.Clone())
		}
		return restored
	}

	if sessionID == "" {
		sessionID = st.cfg.NewSessionID()
	}
	now := st.cfg.Clock.Now()
	meta := st.cfg.Metadata
	meta.StartedAt = now
	meta.Features = api.NormalizeFeatures(meta.Features)
	fresh := &api.Session{
		UserID:      userID,
		SessionID:   sessionID,
		Responses:   make(map[string]api.Value),
		LastSavedAt: now,
		Metadata:    meta,
	}

	st.mu.Lock()
	st.current = fresh
	st.epoch++
	st.rev, st.savedRev = 0, 0
	st.mu.Unlock()

	st.cfg.Observer.OnSessionStarted(ctx, fresh)
	return fresh.Clone()
}

// copyLookup is what lookup learned about the two keys of one user.
type copyLookup struct {
	session *api.Session
	// corrupt lists keys that were read and could not be parsed.
	corrupt []string
	// foreign lists keys holding a valid copy of some other user.
	foreign []string
	// unreadable lists keys whose read failed for a reason other than
	// absence.
	unreadable []string
}

// lookup reads the primary then the backup copy without side effects. Keys
// that cannot be read count as absent; only keys that were read and failed
// to parse are reported as corrupt.
func (st *Store) lookup(ctx context.Context, userID string) copyLookup {
	var res copyLookup
	primary, backup := st.keys(userID)
	for _, key := range []string{primary, backup} {
		raw, err := st.cfg.Storage.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				st.logger.WarnContext(ctx, "session_read_failed",
					slog.String("key", key),
					slog.Any("error", err),
				)
				res.unreadable = append(res.unreadable, key)
			}
			continue
		}
		decoded, err := Decode(raw)
		if err != nil {
			st.logger.WarnContext(ctx, "session_copy_corrupt",
				slog.String("key", key),
				slog.Any("error", err),
			)
			res.corrupt = append(res.corrupt, key)
			continue
		}
		if decoded.UserID != userID {
			st.logger.DebugContext(ctx, "session_copy_foreign",
				slog.String("key", key),
				slog.String("owner", decoded.UserID),
			)
			res.foreign = append(res.foreign, key)
			continue
		}
		res.session = decoded
		return res
	}
	return res
}

func (st *Store) isStale(s *api.Session) bool {
	return st.cfg.Clock.Since(s.LastSavedAt) > st.cfg.StaleAfter
}

// Restore loads the stored copy of the bound user: the primary key first,
// then the backup. Keys that were read and could not be parsed are removed;
// keys that could not be read are left alone. A copy older than the
// staleness window is removed and treated as absent. Restore never fails;
// on any problem it returns nil.
func (st *Store) Restore(ctx context.Context) *api.Session {
	st.mu.Lock()
	userID := st.userID
	st.mu.Unlock()
	if userID == "" {
		return nil
	}
	if err := CheckUserID(userID); err != nil {
		st.logger.WarnContext(ctx, "session_user_reserved",
			slog.String("user_id", userID),
		)
		return nil
	}

	res := st.lookup(ctx, userID)
	s := res.session
	switch {
	case s == nil:
		st.removeKeys(ctx, userID, "corrupt", res.corrupt...)
		return nil
	case st.isStale(s):
		st.logger.InfoContext(ctx, "session_stale",
			slog.String("user_id", userID),
			slog.Time("last_saved_at", s.LastSavedAt),
		)
		primary, backup := st.keys(userID)
		var owned []string
		for _, k := range []string{primary, backup} {
			if !slices.Contains(res.foreign, k) && !slices.Contains(res.unreadable, k) {
				owned = append(owned, k)
			}
		}
		st.removeKeys(ctx, userID, "stale", owned...)
		return nil
	}

	st.mu.Lock()
	st.current = s
	st.epoch++
	st.rev, st.savedRev = 0, 0
	st.mu.Unlock()
	return s.Clone()
}

// removeKeys removes keys on behalf of userID. Nothing is removed for a
// reserved user ID, since its keys may belong to someone else.
func (st *Store) removeKeys(ctx context.Context, userID, reason string, keys ...string) {
	if CheckUserID(userID) != nil {
		return
	}
	for _, key := range keys {
		if err := st.cfg.Storage.Remove(ctx, key); err != nil {
			st.logger.WarnContext(ctx, "session_remove_failed",
				slog.String("key", key),
				slog.String("reason", reason),
				slog.Any("error", err),
			)
		}
	}
}

// removeAll removes both keys of userID.
func (st *Store) removeAll(ctx context.Context, userID, reason string) {
	primary, backup := st.keys(userID)
	st.removeKeys(ctx, userID, reason, primary, backup)
}

// UpdateResponse records the answer to a question in memory.
func (st *Store) UpdateResponse(questionID string, v api.Value) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return
	}
	st.current.Responses[questionID] = v
	st.rev++
}

// UpdateProgress records the position in the flow in memory. eta may be nil
// when no estimate is available.
func (st *Store) UpdateProgress(sectionIndex, questionIndex int, pct float64, eta *time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return
	}
	st.current.CurrentSectionIndex = sectionIndex
	st.current.CurrentQuestionIndex = questionIndex
	st.current.Progress = api.ClampProgress(pct)
	if eta != nil {
		d := *eta
		st.current.Metadata.EstimatedTimeRemaining = &d
	} else {
		st.current.Metadata.EstimatedTimeRemaining = nil
	}
	st.rev++
}

// Save persists the latest in-memory state. It returns false without
// recording an error when there is no session or another save is in
// flight, and false with LastSaveError set when the write fails.
func (st *Store) Save(ctx context.Context) bool {
	return st.save(ctx, false)
}

// PerformAutoSave saves when there are unsaved changes. It is what the
// auto-save loop calls on every tick.
func (st *Store) PerformAutoSave(ctx context.Context) bool {
	if !st.IsDirty() {
		return false
	}
	return st.save(ctx, true)
}

func (st *Store) save(ctx context.Context, auto bool) bool {
	st.mu.Lock()
	if st.current == nil || st.saving {
		st.mu.Unlock()
		return false
	}
	st.saving = true
	snap := st.current.Clone()
	rev, epoch := st.rev, st.epoch
	savedAt := st.cfg.Clock.Now()
	if savedAt.Before(snap.LastSavedAt) {
		savedAt = snap.LastSavedAt
	}
	snap.LastSavedAt = savedAt
	st.mu.Unlock()

	start := st.cfg.Clock.Now()
	err := st.persist(ctx, snap)
	took := st.cfg.Clock.Since(start)

	st.mu.Lock()
	st.saving = false
	cleared := st.epoch != epoch
	dropped := st.current == nil
	if err != nil {
		st.lastErr = err.Error()
	} else {
		st.lastErr = ""
		if !cleared {
			st.current.LastSavedAt = savedAt
			if rev > st.savedRev {
				st.savedRev = rev
			}
		}
	}
	st.mu.Unlock()

	if err == nil && cleared && dropped {
		// Clear ran while the write was in flight.
		st.removeAll(ctx, snap.UserID, "cleared")
	}

	st.cfg.Observer.OnSaveCompleted(ctx, snap, auto, err, took)
	if auto {
		if cb := st.cfg.Callbacks.OnAutoSave; cb != nil {
			cb(err == nil)
		}
	}
	return err == nil
}

// persist writes snap to the primary key and then, best effort, to the
// backup key. A full medium triggers one eviction pass and one more try.
func (st *Store) persist(ctx context.Context, snap *api.Session) error {
	data, fallback, err := Encode(snap)
	if err != nil {
		return &api.StorageError{Op: "encode", Err: err}
	}
	if fallback {
		st.logger.WarnContext(ctx, "session_encode_fallback",
			slog.String("user_id", snap.UserID),
			slog.String("session_id", snap.SessionID),
		)
	}

	primary, backup := st.keys(snap.UserID)
	if err := CheckUserID(snap.UserID); err != nil {
		return &api.StorageError{Op: "write", Key: primary, Err: err}
	}
	err = st.write(ctx, primary, data)
	if storage.IsQuotaExceeded(err) {
		if _, evErr := st.evictOthers(ctx, snap.UserID); evErr != nil {
			st.logger.WarnContext(ctx, "session_evict_failed", slog.Any("error", evErr))
		}
		err = st.write(ctx, primary, data)
	}
	if err != nil {
		return &api.StorageError{Op: "write", Key: primary, Err: err}
	}

	if err := st.write(ctx, backup, data); err != nil {
		st.logger.WarnContext(ctx, "session_backup_write_failed",
			slog.String("key", backup),
			slog.Any("error", err),
		)
	}
	return nil
}

// write sets key, retrying transient failures per the retry policy.
func (st *Store) write(ctx context.Context, key, data string) error {
	attempts := st.cfg.Retry.Attempts()
	var err error
	for i := 1; i <= attempts; i++ {
		err = st.cfg.Storage.Set(ctx, key, data)
		if err == nil || !storage.IsTransient(err) || i == attempts {
			return err
		}
		st.logger.DebugContext(ctx, "session_write_retry",
			slog.String("key", key),
			slog.Int("attempt", i),
			slog.Any("error", err),
		)
		if sleepErr := cancel.Sleep(ctx, st.cfg.Clock, st.cfg.Retry.Backoff(i)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

// StartAutoSave starts the auto-save loop. It is a no-op when the loop is
// already running. The loop stops when ctx is done or Stop is called.
func (st *Store) StartAutoSave(ctx context.Context) {
	st.loopMu.Lock()
	defer st.loopMu.Unlock()
	if st.loopCancel != nil {
		return
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	done := make(chan struct{})
	st.loopCancel = cancelLoop
	st.loopDone = done

	ticker := st.cfg.Clock.NewTicker(st.cfg.AutoSaveInterval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.Chan():
				st.PerformAutoSave(loopCtx)
			}
		}
	}()
}

// Stop stops the auto-save loop and waits for it to exit.
func (st *Store) Stop() {
	st.loopMu.Lock()
	cancelLoop, done := st.loopCancel, st.loopDone
	st.loopCancel, st.loopDone = nil, nil
	st.loopMu.Unlock()

	if cancelLoop == nil {
		return
	}
	cancelLoop()
	<-done
}

// Clear removes both durable copies, stops the auto-save loop and drops the
// in-memory session. Calling it again is harmless.
func (st *Store) Clear(ctx context.Context) {
	st.Stop()

	st.mu.Lock()
	userID := st.userID
	st.current = nil
	st.epoch++
	st.rev, st.savedRev = 0, 0
	st.lastErr = ""
	st.mu.Unlock()

	if userID == "" {
		return
	}
	st.removeAll(ctx, userID, "cleared")
	st.cfg.Observer.OnSessionCleared(ctx, userID)
}

// HasExistingSession reports whether the bound user has a resumable stored
// copy with progress above zero. It does not modify storage.
func (st *Store) HasExistingSession(ctx context.Context) bool {
	st.mu.Lock()
	userID := st.userID
	st.mu.Unlock()
	if userID == "" {
		return false
	}
	if CheckUserID(userID) != nil {
		return false
	}
	s := st.lookup(ctx, userID).session
	return s != nil && !st.isStale(s) && s.Progress > 0
}

// Session returns a copy of the in-memory session, or nil.
func (st *Store) Session() *api.Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current.Clone()
}

// IsDirty reports whether there are changes not yet saved.
func (st *Store) IsDirty() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current != nil && st.rev != st.savedRev
}

// IsSaving reports whether a save is in flight.
func (st *Store) IsSaving() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.saving
}

// LastSaveError returns the message of the last failed save, or "" after a
// successful one.
func (st *Store) LastSaveError() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastErr
}

// Close stops the auto-save loop. The stored copies are kept.
func (st *Store) Close() error {
	st.Stop()
	return nil
}
