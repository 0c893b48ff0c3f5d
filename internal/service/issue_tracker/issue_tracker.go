package issue_tracker

import (
	"context"

	"github.com/EddyChen/diagno-core/internal/model"
)

// FiledIssue identifies the tracker-side copy of a captured issue.
type FiledIssue struct {
	IID    int64
	WebURL string
}

type IssueTrackerService interface {
	FileIssue(ctx context.Context, issue model.Issue) (*FiledIssue, error)
}
