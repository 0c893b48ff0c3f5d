package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/settings"
	"github.com/EddyChen/diagno-core/internal/store"
)

var ErrInvalidSettings = errors.New("invalid settings")

// ValidationError carries the failed checks of a rejected settings update.
type ValidationError struct {
	Validation settings.Validation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid settings: %d problem(s)", len(e.Validation.Errors))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSettings
}

type SettingsService interface {
	Load(ctx context.Context) (settings.Tree, error)
	Current(ctx context.Context) settings.Tree
	Update(ctx context.Context, partial settings.Tree) (settings.Tree, error)
	Validate(ctx context.Context, partial settings.Tree) settings.Validation
}

type settingsService struct {
	store *settings.Store
	audit store.AuditLog
}

func NewSettingsService(store *settings.Store, audit store.AuditLog) SettingsService {
	return &settingsService{store: store, audit: audit}
}

func (s *settingsService) Load(ctx context.Context) (settings.Tree, error) {
	tree, err := s.store.Load(ctx)
	if err != nil {
		s.audit.Record(ctx, model.AuditLevelError, "Failed to load configuration", map[string]any{"error": err.Error()})
		return nil, err
	}
	s.audit.Record(ctx, model.AuditLevelInfo, "Configuration loaded", nil)
	return tree, nil
}

func (s *settingsService) Current(context.Context) settings.Tree {
	return s.store.Current()
}

// Update validates the merged result before persisting so an update can never
// leave a required setting empty. Validation runs under the store lock against
// the exact tree that gets saved.
func (s *settingsService) Update(ctx context.Context, partial settings.Tree) (settings.Tree, error) {
	tree, err := s.store.SaveValidated(ctx, partial, func(next settings.Tree) error {
		if v := settings.Validate(next); !v.IsValid {
			return &ValidationError{Validation: v}
		}
		return nil
	})
	var invalid *ValidationError
	if errors.As(err, &invalid) {
		return nil, err
	}
	if err != nil {
		s.audit.Record(ctx, model.AuditLevelError, "Failed to save configuration", map[string]any{"error": err.Error()})
		return nil, err
	}
	s.audit.Record(ctx, model.AuditLevelInfo, "Configuration updated", nil)
	return tree, nil
}

// Validate checks partial merged over the current configuration. A nil partial
// validates the current configuration.
func (s *settingsService) Validate(_ context.Context, partial settings.Tree) settings.Validation {
	if partial == nil {
		return s.store.Validate()
	}
	return settings.Validate(s.store.Preview(partial))
}
