package store

import (
	"fmt"
	"log/slog"

	"github.com/EddyChen/diagno-core/core/config"
	"github.com/EddyChen/diagno-core/core/db"
	"github.com/redis/go-redis/v9"
)

// Backends carries the shared clients a KV backend may be built on.
type Backends struct {
	Redis *redis.Client
	DB    *db.DB
}

// NewKV builds the KV selected by cfg.Backend.
func NewKV(cfg config.StorageConfig, backends Backends) (KV, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryKV(), nil
	case config.BackendBadger:
		bcfg := DefaultBadgerConfig(cfg.BadgerPath)
		bcfg.Logger = slog.Default().With("component", "diagno.store.badger")
		return NewBadgerKV(bcfg)
	case config.BackendRedis:
		if backends.Redis == nil {
			return nil, fmt.Errorf("redis backend selected but no redis client configured")
		}
		return NewRedisKV(backends.Redis, cfg.KeyPrefix), nil
	case config.BackendPostgres:
		if backends.DB == nil {
			return nil, fmt.Errorf("postgres backend selected but no database configured")
		}
		return NewPostgresKV(backends.DB.Querier()), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// Stores holds one instance of each store so their locks are shared by all callers.
type Stores struct {
	kv     KV
	issues *issueStore
	audit  *auditLog
}

func NewStores(kv KV, limits Limits) *Stores {
	return &Stores{
		kv:     kv,
		issues: newIssueStore(kv, limits.MaxIssues),
		audit:  newAuditLog(kv, limits.MaxLogs),
	}
}

func (s *Stores) KV() KV {
	return s.kv
}

func (s *Stores) Issues() IssueStore {
	return s.issues
}

func (s *Stores) Audit() AuditLog {
	return s.audit
}
