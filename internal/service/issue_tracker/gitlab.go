package issue_tracker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/EddyChen/diagno-core/core/config"
	"github.com/EddyChen/diagno-core/internal/model"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

const maxOCRExcerpt = 2000

type gitLabIssueTrackerService struct {
	client    *gitlab.Client
	projectID string
	labels    []string
}

func NewGitLabIssueTrackerService(cfg config.GitLabConfig, httpClient *http.Client) (IssueTrackerService, error) {
	client, err := newClient(cfg.BaseURL, cfg.Token, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	return &gitLabIssueTrackerService{
		client:    client,
		projectID: cfg.ProjectID,
		labels:    []string{"diagno", "user-report"},
	}, nil
}

func (s *gitLabIssueTrackerService) FileIssue(ctx context.Context, issue model.Issue) (*FiledIssue, error) {
	labels := gitlab.LabelOptions(s.labels)

	created, _, err := s.client.Issues.CreateIssue(
		s.projectID,
		&gitlab.CreateIssueOptions{
			Title:       gitlab.Ptr(issueTitle(issue)),
			Description: gitlab.Ptr(issueDescription(issue)),
			Labels:      &labels,
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("creating issue in gitlab: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("gitlab issue not returned")
	}

	return &FiledIssue{IID: created.IID, WebURL: created.WebURL}, nil
}

// Retries are owned by the report queue, not the client.
func newClient(baseURL, token string, httpClient *http.Client) (*gitlab.Client, error) {
	opts := []gitlab.ClientOptionFunc{gitlab.WithCustomRetryMax(0)}
	if httpClient != nil {
		opts = append(opts, gitlab.WithHTTPClient(httpClient))
	}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"))
	}
	return gitlab.NewClient(token, opts...)
}

func issueTitle(issue model.Issue) string {
	title := issue.PageInfo.Title
	if title == "" {
		title = issue.PageInfo.URL
	}
	return fmt.Sprintf("[%s] Problem reported on %s", issue.ID, title)
}

func issueDescription(issue model.Issue) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Issue:** %s\n", issue.ID)
	fmt.Fprintf(&b, "**URL:** %s\n", issue.PageInfo.URL)
	fmt.Fprintf(&b, "**Captured:** %s\n", issue.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "**Platform:** %s / %s\n", issue.SystemInfo.Platform, issue.SystemInfo.UserAgent)

	if issue.AdditionalDetails != "" {
		b.WriteString("\n### Reporter notes\n\n")
		b.WriteString(issue.AdditionalDetails)
		b.WriteString("\n")
	}

	if issue.OCRText != "" {
		ocr := issue.OCRText
		if len(ocr) > maxOCRExcerpt {
			ocr = ocr[:maxOCRExcerpt] + "..."
		}
		b.WriteString("\n### Text on screen\n\n```\n")
		b.WriteString(ocr)
		b.WriteString("\n```\n")
	}

	if len(issue.Suggestions) > 0 {
		b.WriteString("\n### Suggested fixes\n\n")
		for _, s := range issue.Suggestions {
			fmt.Fprintf(&b, "- %s (%.0f%%)\n", s.Text, s.Confidence*100)
		}
	}

	return b.String()
}
