package store

import (
	"context"
	"errors"

	"github.com/EddyChen/diagno-core/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Persisted keys.
const (
	KeyConfig = "config"
	KeyLogs   = "logs"
	KeyIssues = "issues"
)

// KV is the durable string -> JSON document map every store is built on.
type KV interface {
	// Get returns ErrNotFound when the key has never been written.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Limits supplies the current capacity of the bounded stores.
type Limits interface {
	MaxIssues(ctx context.Context) int
	MaxLogs(ctx context.Context) int
}

// IssueStore is the bounded history of committed issues, newest first.
type IssueStore interface {
	Add(ctx context.Context, issue model.Issue) (*model.Issue, error)
	List(ctx context.Context) ([]model.Issue, error)
	GetByID(ctx context.Context, id string) (*model.Issue, error)
	// UpdateStatus is a no-op for unknown ids.
	UpdateStatus(ctx context.Context, id string, status model.IssueStatus) error
	Search(ctx context.Context, filter IssueFilter) ([]model.Issue, error)
}

// AuditLog is the bounded operational log. Record never fails the caller.
type AuditLog interface {
	Record(ctx context.Context, level model.AuditLevel, message string, data any)
	List(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

type IssueFilter struct {
	Query  string            // case-insensitive match on id, url, title, details
	Status model.IssueStatus // empty or "all" matches every status
}
