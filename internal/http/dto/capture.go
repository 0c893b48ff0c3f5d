package dto

import (
	"time"

	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/pipeline"
)

// Screenshot and URL presence is checked by the pipeline so the failure is
// reported as a capture-stage error.
type CaptureRequest struct {
	Screenshot string            `json:"screenshot"`
	PageInfo   PageInfoRequest   `json:"pageInfo"`
	SystemInfo SystemInfoRequest `json:"systemInfo"`
}

type PageInfoRequest struct {
	URL       string    `json:"url" binding:"omitempty,max=8192"`
	Title     string    `json:"title" binding:"omitempty,max=1024"`
	Timestamp time.Time `json:"timestamp"`
}

type SystemInfoRequest struct {
	Platform         string    `json:"platform"`
	UserAgent        string    `json:"userAgent"`
	Language         string    `json:"language"`
	ScreenResolution string    `json:"screenResolution"`
	Timestamp        time.Time `json:"timestamp"`
}

func (r CaptureRequest) ToInput() pipeline.CaptureInput {
	return pipeline.CaptureInput{
		Screenshot: r.Screenshot,
		PageInfo: model.PageInfo{
			URL:       r.PageInfo.URL,
			Title:     r.PageInfo.Title,
			Timestamp: r.PageInfo.Timestamp,
		},
		SystemInfo: model.SystemInfo{
			Platform:         r.SystemInfo.Platform,
			UserAgent:        r.SystemInfo.UserAgent,
			Language:         r.SystemInfo.Language,
			ScreenResolution: r.SystemInfo.ScreenResolution,
			Timestamp:        r.SystemInfo.Timestamp,
		},
	}
}

type CaptureResponse struct {
	RunID       uint64             `json:"runId"`
	Suggestions []model.Suggestion `json:"suggestions"`
	Strategy    string             `json:"strategy"`
	Degraded    bool               `json:"degraded"`
}

func ToCaptureResponse(res *pipeline.RunResult) *CaptureResponse {
	return &CaptureResponse{
		RunID:       res.RunID,
		Suggestions: res.Suggestions,
		Strategy:    string(res.Strategy),
		Degraded:    res.Degraded,
	}
}

type SubmitRequest struct {
	AdditionalDetails string `json:"additionalDetails" binding:"max=10000"`
	RunID             uint64 `json:"runId"`
}

type ResolveResponse struct {
	Resolved bool   `json:"resolved"`
	IssueID  string `json:"issueId,omitempty"`
}

type CurrentRunResponse struct {
	State string        `json:"state"`
	Run   *pipeline.Run `json:"run,omitempty"`
}

// ToCurrentRunResponse omits the screenshot; the status endpoint is polled and
// the image is only needed on capture and in the stored issue.
func ToCurrentRunResponse(run *pipeline.Run) *CurrentRunResponse {
	if run == nil {
		return &CurrentRunResponse{State: string(pipeline.StateIdle)}
	}
	snapshot := *run
	snapshot.Issue.Screenshot = ""
	return &CurrentRunResponse{State: string(run.State), Run: &snapshot}
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Stage    string `json:"stage,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Upstream int    `json:"upstreamStatus,omitempty"`
}
