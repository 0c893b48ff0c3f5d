package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EddyChen/diagno-core/internal/model"
)

type auditLog struct {
	mu       sync.Mutex
	kv       KV
	capacity func(ctx context.Context) int
	now      func() time.Time
}

func newAuditLog(kv KV, capacity func(ctx context.Context) int) *auditLog {
	return &auditLog{kv: kv, capacity: capacity, now: time.Now}
}

func (a *auditLog) Record(ctx context.Context, level model.AuditLevel, message string, data any) {
	attrs := []any{"audit", true}
	if data != nil {
		attrs = append(attrs, "data", data)
	}
	slog.Log(ctx, level.SlogLevel(), message, attrs...)

	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.load(ctx)
	if err != nil {
		slog.WarnContext(ctx, "audit log unreadable, entry dropped", "error", err)
		return
	}

	entries = append(entries, model.AuditEntry{
		Timestamp: a.now().UTC(),
		Level:     level,
		Message:   message,
		Data:      data,
	})
	if limit := a.capacity(ctx); limit > 0 && len(entries) > limit {
		entries = entries[1:]
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		slog.WarnContext(ctx, "audit entry not encodable, dropped", "error", err)
		return
	}
	if err := a.kv.Set(ctx, KeyLogs, raw); err != nil {
		slog.WarnContext(ctx, "persisting audit log failed", "error", err)
	}
}

// List returns the newest limit entries in insertion order; limit <= 0 returns all.
func (a *auditLog) List(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (a *auditLog) load(ctx context.Context) ([]model.AuditEntry, error) {
	raw, err := a.kv.Get(ctx, KeyLogs)
	if errors.Is(err, ErrNotFound) {
		return []model.AuditEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading audit log: %w", err)
	}

	var entries []model.AuditEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding audit log: %w", err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return entries, nil
}
