package service

import (
	"context"
	"log/slog"

	"github.com/EddyChen/diagno-core/common/logger"
	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/pipeline"
	"github.com/EddyChen/diagno-core/internal/queue"
	"github.com/EddyChen/diagno-core/internal/store"
)

type CaptureService interface {
	Capture(ctx context.Context, in pipeline.CaptureInput) (*pipeline.RunResult, error)
	Current(ctx context.Context) *pipeline.Run
	Submit(ctx context.Context, in pipeline.SubmitInput) (*model.Issue, error)
	Resolve(ctx context.Context) (string, error)
}

type captureService struct {
	orchestrator *pipeline.Orchestrator
	runtime      pipeline.RuntimeSource
	producer     queue.Producer
	audit        store.AuditLog
}

func NewCaptureService(orchestrator *pipeline.Orchestrator, runtime pipeline.RuntimeSource, producer queue.Producer, audit store.AuditLog) CaptureService {
	return &captureService{
		orchestrator: orchestrator,
		runtime:      runtime,
		producer:     producer,
		audit:        audit,
	}
}

// Capture runs detached from the caller's cancellation so a dropped HTTP
// connection does not abort a run that another caller may submit. Only a
// newer capture or a stage timeout ends it early.
func (s *captureService) Capture(ctx context.Context, in pipeline.CaptureInput) (*pipeline.RunResult, error) {
	return s.orchestrator.Capture(context.WithoutCancel(ctx), in)
}

func (s *captureService) Current(context.Context) *pipeline.Run {
	return s.orchestrator.Current()
}

// Submit commits the current run and, when forwarding is enabled, enqueues
// the issue for the report worker. A failed enqueue does not undo the commit.
func (s *captureService) Submit(ctx context.Context, in pipeline.SubmitInput) (*model.Issue, error) {
	issue, err := s.orchestrator.Submit(ctx, in)
	if err != nil {
		return nil, err
	}

	rt := s.runtime.Runtime()
	if !rt.ForwardReports {
		return issue, nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{IssueID: logger.Ptr(issue.ID)})
	if err := s.producer.Enqueue(ctx, queue.ReportMessage{
		Issue:     *issue,
		ReportURL: rt.ReportURL,
		TraceID:   logger.TraceIDFromContext(ctx),
	}); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue issue report", "error", err)
		s.audit.Record(ctx, model.AuditLevelWarn, "Issue saved but report forwarding failed", map[string]any{
			"issueId": issue.ID,
			"error":   err.Error(),
		})
	}

	return issue, nil
}

func (s *captureService) Resolve(ctx context.Context) (string, error) {
	return s.orchestrator.Resolve(ctx)
}
