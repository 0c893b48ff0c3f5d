package worker

import (
	"context"
	"log/slog"

	"github.com/EddyChen/diagno-core/internal/queue"
	"github.com/EddyChen/diagno-core/internal/service/issue_tracker"
)

type trackerSink struct {
	tracker issue_tracker.IssueTrackerService
}

// NewTrackerSink files every report as an issue in the external tracker.
func NewTrackerSink(tracker issue_tracker.IssueTrackerService) Sink {
	return &trackerSink{tracker: tracker}
}

func (s *trackerSink) Name() string { return "issue_tracker" }

func (s *trackerSink) Deliver(ctx context.Context, msg queue.Message) error {
	filed, err := s.tracker.FileIssue(ctx, msg.Issue)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "issue filed in tracker",
		"tracker_iid", filed.IID,
		"tracker_url", filed.WebURL)
	return nil
}
