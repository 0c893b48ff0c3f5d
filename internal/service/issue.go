package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/store"
)

var ErrInvalidStatus = errors.New("invalid issue status")

type IssueService interface {
	List(ctx context.Context, filter store.IssueFilter) ([]model.Issue, error)
	Get(ctx context.Context, id string) (*model.Issue, error)
	UpdateStatus(ctx context.Context, id string, status model.IssueStatus) (*model.Issue, error)
}

type issueService struct {
	issues store.IssueStore
	audit  store.AuditLog
}

func NewIssueService(issues store.IssueStore, audit store.AuditLog) IssueService {
	return &issueService{issues: issues, audit: audit}
}

func (s *issueService) List(ctx context.Context, filter store.IssueFilter) ([]model.Issue, error) {
	if filter.Query == "" && (filter.Status == "" || filter.Status == "all") {
		issues, err := s.issues.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		return issues, nil
	}

	issues, err := s.issues.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}
	return issues, nil
}

func (s *issueService) Get(ctx context.Context, id string) (*model.Issue, error) {
	return s.issues.GetByID(ctx, id)
}

// UpdateStatus changes an issue's status and returns the updated issue.
// Unknown ids report store.ErrNotFound.
func (s *issueService) UpdateStatus(ctx context.Context, id string, status model.IssueStatus) (*model.Issue, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if _, err := s.issues.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := s.issues.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("updating issue status: %w", err)
	}

	s.audit.Record(ctx, model.AuditLevelInfo, "Issue status updated", map[string]any{
		"issueId": id,
		"status":  string(status),
	})

	return s.issues.GetByID(ctx, id)
}
