package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/queue"
)

const maxErrorBody = 512

type reportMetadata struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// reportPayload is the body the report endpoint has always accepted, with the
// full issue attached.
type reportPayload struct {
	Text        string             `json:"text"`
	Suggestions []model.Suggestion `json:"suggestions"`
	Screenshot  string             `json:"screenshot"`
	Metadata    reportMetadata     `json:"metadata"`
	Issue       model.Issue        `json:"issue"`
}

type reportSink struct {
	client *http.Client
	now    func() time.Time
}

// NewReportSink posts committed issues to the report URL carried by each
// message. Messages without a report URL are skipped.
func NewReportSink(client *http.Client) Sink {
	if client == nil {
		client = http.DefaultClient
	}
	return &reportSink{client: client, now: time.Now}
}

func (s *reportSink) Name() string { return "report" }

func (s *reportSink) Deliver(ctx context.Context, msg queue.Message) error {
	if msg.ReportURL == "" {
		slog.DebugContext(ctx, "no report url on message, skipping report endpoint")
		return nil
	}

	issue := msg.Issue
	body, err := json.Marshal(reportPayload{
		Text:        issue.OCRText,
		Suggestions: issue.Suggestions,
		Screenshot:  issue.Screenshot,
		Metadata: reportMetadata{
			URL:       issue.PageInfo.URL,
			Timestamp: s.now().UTC(),
		},
		Issue: issue,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding report: %v", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.ReportURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building report request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("report service returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	if retryableStatus(resp.StatusCode) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
