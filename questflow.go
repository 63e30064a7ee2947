package questflow

import (
	"database/sql"

	goredis "github.com/redis/go-redis/v9"
	gomongo "go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/questflow/internal/session"
	"github.com/petrijr/questflow/internal/storage"
	"github.com/petrijr/questflow/mongo"
	"github.com/petrijr/questflow/pkg/api"
	"github.com/petrijr/questflow/postgres"
	"github.com/petrijr/questflow/redis"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Value                = api.Value
	Question             = api.Question
	QuestionType         = api.QuestionType
	Validation           = api.Validation
	QuestionMetadata     = api.QuestionMetadata
	Section              = api.Section
	FlowDefinition       = api.FlowDefinition
	Session              = api.Session
	SessionMetadata      = api.SessionMetadata
	NavigationConfig     = api.NavigationConfig
	NavigationState      = api.NavigationState
	RetryPolicy          = api.RetryPolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Storage        = storage.Storage
	SQLiteOptions  = storage.SQLiteOptions
	EvictionPolicy = session.EvictionPolicy
)

// Re-export value constructors and observer helpers.

var (
	Null    = api.Null
	String  = api.String
	Number  = api.Number
	Bool    = api.Bool
	Strings = api.Strings

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	Preset     = api.Preset
	MustPreset = api.MustPreset

	EvictAllOthers = session.EvictAllOthers
	EvictOlderThan = session.EvictOlderThan
)

// Re-export question types and preset names for convenience.

const (
	TypeText        = api.TypeText
	TypeNumber      = api.TypeNumber
	TypeSelect      = api.TypeSelect
	TypeMultiselect = api.TypeMultiselect
	TypeBoolean     = api.TypeBoolean
	TypeScale       = api.TypeScale
	TypeDate        = api.TypeDate

	PresetConservative = api.PresetConservative
	PresetStandard     = api.PresetStandard
	PresetFast         = api.PresetFast
	PresetClinical     = api.PresetClinical
	PresetHealth       = api.PresetHealth
)

// Storage constructors
// These wrap the backend packages so callers can pick a medium from one place.

// NewMemoryStorage returns a non-durable Storage. quotaBytes <= 0 means
// unbounded.
func NewMemoryStorage(quotaBytes int) Storage {
	if quotaBytes > 0 {
		return storage.NewMemoryStorage(storage.WithQuota(quotaBytes))
	}
	return storage.NewMemoryStorage()
}

// NewSQLiteStorage returns a Storage that keeps entries in a SQLite table.
func NewSQLiteStorage(db *sql.DB, opts SQLiteOptions) (Storage, error) {
	return storage.NewSQLiteStorage(db, opts)
}

// NewPostgresStorage returns a Storage that keeps entries in a PostgreSQL
// table.
func NewPostgresStorage(db *sql.DB, table string) (Storage, error) {
	return postgres.NewStorage(db, table)
}

// NewRedisStorage returns a Storage that keeps entries as Redis strings under
// prefix.
func NewRedisStorage(client goredis.UniversalClient, prefix string) Storage {
	return redis.NewStorage(client, prefix)
}

// NewMongoStorage returns a Storage that keeps one MongoDB document per key.
func NewMongoStorage(client *gomongo.Client, dbName, collName string) Storage {
	return mongo.NewStorage(client, dbName, collName)
}
