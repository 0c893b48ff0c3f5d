package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EddyChen/diagno-core/common/id"
	"github.com/EddyChen/diagno-core/internal/model"
)

const statusAll = "all"

type issueStore struct {
	mu       sync.Mutex
	kv       KV
	capacity func(ctx context.Context) int
	newID    func() string
	now      func() time.Time
}

func newIssueStore(kv KV, capacity func(ctx context.Context) int) *issueStore {
	return &issueStore{
		kv:       kv,
		capacity: capacity,
		newID:    id.NewIssueID,
		now:      time.Now,
	}
}

func (s *issueStore) Add(ctx context.Context, issue model.Issue) (*model.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issues, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	issue.ID = s.newID()
	issue.Status = model.IssueStatusSubmitted
	issue.Timestamp = s.now().UTC()
	issue.UpdatedAt = nil

	issues = append([]model.Issue{issue}, issues...)
	if limit := s.capacity(ctx); limit > 0 && len(issues) > limit {
		issues = issues[:len(issues)-1]
	}

	if err := s.save(ctx, issues); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *issueStore) List(ctx context.Context) ([]model.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *issueStore) GetByID(ctx context.Context, issueID string) (*model.Issue, error) {
	issues, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range issues {
		if issues[i].ID == issueID {
			return &issues[i], nil
		}
	}
	return nil, ErrNotFound
}

func (s *issueStore) UpdateStatus(ctx context.Context, issueID string, status model.IssueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issues, err := s.load(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i := range issues {
		if issues[i].ID == issueID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	now := s.now().UTC()
	issues[idx].Status = status
	issues[idx].UpdatedAt = &now
	return s.save(ctx, issues)
}

func (s *issueStore) Search(ctx context.Context, filter IssueFilter) ([]model.Issue, error) {
	issues, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	matched := make([]model.Issue, 0, len(issues))
	for _, issue := range issues {
		if filter.Status != "" && filter.Status != statusAll && issue.Status != filter.Status {
			continue
		}
		if query != "" && !matchesQuery(issue, query) {
			continue
		}
		matched = append(matched, issue)
	}
	return matched, nil
}

func matchesQuery(issue model.Issue, query string) bool {
	for _, field := range []string{issue.ID, issue.PageInfo.URL, issue.PageInfo.Title, issue.AdditionalDetails} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func (s *issueStore) load(ctx context.Context) ([]model.Issue, error) {
	raw, err := s.kv.Get(ctx, KeyIssues)
	if errors.Is(err, ErrNotFound) {
		return []model.Issue{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading issues: %w", err)
	}

	var issues []model.Issue
	if err := json.Unmarshal(raw, &issues); err != nil {
		return nil, fmt.Errorf("decoding issues: %w", err)
	}
	if issues == nil {
		issues = []model.Issue{}
	}
	return issues, nil
}

func (s *issueStore) save(ctx context.Context, issues []model.Issue) error {
	raw, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("encoding issues: %w", err)
	}
	if err := s.kv.Set(ctx, KeyIssues, raw); err != nil {
		return fmt.Errorf("saving issues: %w", err)
	}
	return nil
}
