package service

import (
	"context"
	"fmt"

	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/store"
)

type AuditService interface {
	List(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

type auditService struct {
	audit store.AuditLog
}

func NewAuditService(audit store.AuditLog) AuditService {
	return &auditService{audit: audit}
}

func (s *auditService) List(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	entries, err := s.audit.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	return entries, nil
}
