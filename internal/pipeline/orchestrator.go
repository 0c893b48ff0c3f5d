package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/EddyChen/diagno-core/common/llm"
	"github.com/EddyChen/diagno-core/common/logger"
	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/settings"
	"github.com/EddyChen/diagno-core/internal/store"
	"github.com/EddyChen/diagno-core/internal/suggestion"
	"go.opentelemetry.io/otel/attribute"
)

type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateOCR       State = "ocr"
	StateAnalysis  State = "analysis"
	StateSuggested State = "suggested"
	StateFailed    State = "failed"
)

const ocrLogPreview = 200

// RuntimeSource provides the settings snapshot a run reads once at start.
type RuntimeSource interface {
	Runtime() settings.Runtime
}

type CaptureInput struct {
	Screenshot string // PNG/JPEG, raw base64 or data URL
	PageInfo   model.PageInfo
	SystemInfo model.SystemInfo
}

type SubmitInput struct {
	AdditionalDetails string
	RunID             uint64 // optional; 0 commits whichever run is current
}

type RunResult struct {
	RunID       uint64
	Suggestions []model.Suggestion
	Strategy    suggestion.Strategy
	Degraded    bool
}

// Run is a snapshot of the in-flight capture.
type Run struct {
	ID          uint64              `json:"runId"`
	State       State               `json:"state"`
	FailedStage Stage               `json:"failedStage,omitempty"`
	Error       string              `json:"error,omitempty"`
	Issue       model.Issue         `json:"issue"`
	Strategy    suggestion.Strategy `json:"strategy,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
}

type run struct {
	Run
	cancel context.CancelFunc
}

// Orchestrator drives capture -> OCR -> analysis -> extraction for a single
// in-flight slot. A new capture takes the slot; older runs are cancelled and
// their completions discarded.
type Orchestrator struct {
	generators llm.Registry
	settings   RuntimeSource
	issues     store.IssueStore
	audit      store.AuditLog
	now        func() time.Time

	mu         sync.Mutex
	generation uint64
	current    *run
}

func New(generators llm.Registry, rt RuntimeSource, issues store.IssueStore, audit store.AuditLog) *Orchestrator {
	return &Orchestrator{
		generators: generators,
		settings:   rt,
		issues:     issues,
		audit:      audit,
		now:        time.Now,
	}
}

// Capture starts a new run, replacing any run in the slot, and blocks until
// it reaches Suggested or fails.
func (o *Orchestrator) Capture(ctx context.Context, in CaptureInput) (*RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := o.now().UTC()
	draft := model.Issue{
		PageInfo:   in.PageInfo,
		SystemInfo: in.SystemInfo.WithDefaults(now),
		Screenshot: in.Screenshot,
	}
	if draft.PageInfo.Timestamp.IsZero() {
		draft.PageInfo.Timestamp = now
	}

	runID := o.start(draft, now, cancel)
	runCtx = logger.WithLogFields(runCtx, logger.LogFields{
		RunID:     logger.Ptr(runID),
		Component: "diagno.pipeline.orchestrator",
	})

	sc := logger.StartSpan(runCtx, "pipeline.capture")
	defer sc.End()
	runCtx = sc.Context()
	sc.Span().SetAttributes(attribute.Int64("pipeline.run_id", int64(runID)))

	slog.InfoContext(runCtx, "capture started", "url", in.PageInfo.URL)

	if in.Screenshot == "" {
		return nil, o.fail(runCtx, runID, invalidCapture("A screenshot is required to analyze the issue."), false)
	}
	if in.PageInfo.URL == "" {
		return nil, o.fail(runCtx, runID, invalidCapture("The page URL is required to analyze the issue."), false)
	}

	rt := o.settings.Runtime()

	// OCR
	if !o.transition(runID, StateOCR, nil) {
		return nil, ErrSuperseded
	}
	ocrGen, err := o.generators.For(llm.ProtocolGenerate)
	if err != nil {
		return nil, o.fail(runCtx, runID, classify(StageOCR, err), false)
	}
	ocrText, err := o.runStage(runCtx, StageOCR, rt.OCR.Timeout, func(ctx context.Context) (string, error) {
		resp, err := ocrGen.Generate(ctx, llm.GenerateRequest{
			URL:     rt.OCR.URL,
			Model:   rt.OCR.Model,
			Prompt:  ocrPrompt,
			Images:  []string{StripDataURL(in.Screenshot)},
			Options: rt.Options,
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
	if err != nil {
		return nil, o.stageFailed(runCtx, runID, err, false)
	}
	slog.DebugContext(runCtx, "ocr text extracted", "preview", logger.Truncate(ocrText, ocrLogPreview))
	o.audit.Record(runCtx, model.AuditLevelInfo, "OCR completed", map[string]any{"runId": runID, "chars": len(ocrText)})

	// Analysis
	var issue model.Issue
	if !o.transition(runID, StateAnalysis, func(r *run) {
		r.Issue.OCRText = ocrText
		issue = r.Issue
	}) {
		return nil, ErrSuperseded
	}
	analysisGen, err := o.generators.For(rt.Protocol)
	if err != nil {
		return nil, o.fail(runCtx, runID, classify(StageAnalysis, err), true)
	}
	raw, err := o.runStage(runCtx, StageAnalysis, rt.Analysis.Timeout, func(ctx context.Context) (string, error) {
		resp, err := analysisGen.Generate(ctx, llm.GenerateRequest{
			URL:     rt.Analysis.URL,
			Model:   rt.Analysis.Model,
			Prompt:  analysisPrompt(issue),
			Options: rt.Options,
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
	if err != nil {
		return nil, o.stageFailed(runCtx, runID, err, true)
	}

	// Extraction
	result := suggestion.New(rt.FallbackConfidence).Extract(raw)
	if !o.transition(runID, StateSuggested, func(r *run) {
		r.Issue.Suggestions = result.Suggestions
		r.Strategy = result.Strategy
	}) {
		return nil, ErrSuperseded
	}

	if result.Degraded() {
		o.audit.Record(runCtx, model.AuditLevelWarn, "Analysis output was not structured, using raw text", map[string]any{"runId": runID})
	}
	o.audit.Record(runCtx, model.AuditLevelInfo, "Analysis completed", map[string]any{
		"runId":       runID,
		"suggestions": len(result.Suggestions),
		"strategy":    string(result.Strategy),
	})
	slog.InfoContext(runCtx, "capture suggested",
		"suggestions", len(result.Suggestions),
		"strategy", result.Strategy)

	return &RunResult{
		RunID:       runID,
		Suggestions: result.Suggestions,
		Strategy:    result.Strategy,
		Degraded:    result.Degraded(),
	}, nil
}

// Submit commits the Suggested run through the issue store and clears the slot.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (*model.Issue, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil || o.current.State != StateSuggested {
		return nil, ErrNoActiveRun
	}
	if in.RunID != 0 && in.RunID != o.current.ID {
		return nil, ErrStaleRun
	}

	draft := o.current.Issue
	draft.AdditionalDetails = in.AdditionalDetails

	stored, err := o.issues.Add(ctx, draft)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		IssueID: logger.Ptr(stored.ID),
		RunID:   logger.Ptr(o.current.ID),
	})
	o.audit.Record(ctx, model.AuditLevelInfo, "Issue submitted", map[string]any{"issueId": stored.ID, "url": stored.PageInfo.URL})
	o.current = nil
	return stored, nil
}

// Resolve marks the in-flight issue resolved when it has been committed, then
// clears the slot. It returns the resolved issue id, or "" when there was none.
func (o *Orchestrator) Resolve(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return "", nil
	}
	cur := o.current
	o.current = nil
	cur.cancel()

	if cur.Issue.ID == "" {
		o.audit.Record(ctx, model.AuditLevelInfo, "Capture dismissed as resolved", map[string]any{"runId": cur.ID})
		return "", nil
	}
	if err := o.issues.UpdateStatus(ctx, cur.Issue.ID, model.IssueStatusResolved); err != nil {
		return "", err
	}
	o.audit.Record(ctx, model.AuditLevelInfo, "Issue resolved", map[string]any{"issueId": cur.Issue.ID})
	return cur.Issue.ID, nil
}

// Current returns a snapshot of the slot, or nil when idle.
func (o *Orchestrator) Current() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	snapshot := o.current.Run
	snapshot.Issue.Suggestions = append([]model.Suggestion(nil), o.current.Issue.Suggestions...)
	return &snapshot
}

func (o *Orchestrator) start(draft model.Issue, now time.Time, cancel context.CancelFunc) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		o.current.cancel()
	}
	o.generation++
	o.current = &run{
		Run: Run{
			ID:        o.generation,
			State:     StateCapturing,
			Issue:     draft,
			StartedAt: now,
		},
		cancel: cancel,
	}
	return o.generation
}

// transition moves the run to state if it still owns the slot.
func (o *Orchestrator) transition(runID uint64, state State, mutate func(r *run)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil || o.current.ID != runID {
		return false
	}
	o.current.State = state
	if mutate != nil {
		mutate(o.current)
	}
	return true
}

func (o *Orchestrator) stageFailed(ctx context.Context, runID uint64, err error, clear bool) error {
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		return err
	}
	return o.fail(ctx, runID, stageErr, clear)
}

// fail records a stage failure. Failures of a superseded run are swallowed and
// reported as ErrSuperseded. With clear the slot is emptied, otherwise the run
// stays in the slot in StateFailed.
func (o *Orchestrator) fail(ctx context.Context, runID uint64, stageErr *StageError, clear bool) error {
	o.mu.Lock()
	owned := o.current != nil && o.current.ID == runID
	if owned {
		if clear {
			o.current = nil
		} else {
			o.current.State = StateFailed
			o.current.FailedStage = stageErr.Stage
			o.current.Error = stageErr.Message
		}
	}
	o.mu.Unlock()

	if !owned {
		return ErrSuperseded
	}

	slog.WarnContext(ctx, "capture failed",
		"stage", stageErr.Stage,
		"kind", stageErr.Kind,
		"status", stageErr.Status,
		"error", stageErr.Err)
	o.audit.Record(ctx, model.AuditLevelError, stageErr.Message, map[string]any{
		"runId": runID,
		"stage": string(stageErr.Stage),
		"kind":  string(stageErr.Kind),
	})
	return stageErr
}

// runStage runs call under its own deadline. Whichever settles first, the
// call or the deadline, decides the outcome; the loser is cancelled.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, timeout time.Duration, call func(ctx context.Context) (string, error)) (string, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(string(stage))})
	sc := logger.StartSpan(ctx, "pipeline."+string(stage))
	defer sc.End()
	sc.Span().SetAttributes(attribute.Int64("pipeline.timeout_ms", timeout.Milliseconds()))

	stageCtx, cancel := context.WithTimeout(sc.Context(), timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		text, err := call(stageCtx)
		done <- outcome{text: text, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-stageCtx.Done():
		out = outcome{err: stageCtx.Err()}
	}

	if out.err == nil {
		slog.DebugContext(stageCtx, "stage completed", "duration_ms", time.Since(start).Milliseconds())
		return out.text, nil
	}

	sc.RecordError(out.err)
	switch {
	case ctx.Err() != nil:
		// parent cancelled: superseded run or caller gone
		return "", classify(stage, context.Canceled)
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		return "", timeoutError(stage, timeout)
	default:
		return "", classify(stage, out.err)
	}
}
