package dto

import (
	"time"

	"github.com/EddyChen/diagno-core/internal/model"
)

type ListIssuesRequest struct {
	Query  string `form:"q" binding:"max=512"`
	Status string `form:"status" binding:"omitempty,oneof=all submitted resolved"`
}

type UpdateIssueStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=submitted resolved"`
}

type IssueResponse struct {
	ID                string             `json:"id"`
	PageInfo          model.PageInfo     `json:"pageInfo"`
	SystemInfo        model.SystemInfo   `json:"systemInfo"`
	Screenshot        string             `json:"screenshot,omitempty"`
	OCRText           string             `json:"ocrText"`
	Suggestions       []model.Suggestion `json:"suggestions"`
	AdditionalDetails string             `json:"additionalDetails,omitempty"`
	Status            model.IssueStatus  `json:"status"`
	Timestamp         time.Time          `json:"timestamp"`
	UpdatedAt         *time.Time         `json:"updatedAt,omitempty"`
}

// ToIssueResponse maps an issue; list views leave the screenshot out.
func ToIssueResponse(issue *model.Issue, withScreenshot bool) *IssueResponse {
	resp := &IssueResponse{
		ID:                issue.ID,
		PageInfo:          issue.PageInfo,
		SystemInfo:        issue.SystemInfo,
		OCRText:           issue.OCRText,
		Suggestions:       issue.Suggestions,
		AdditionalDetails: issue.AdditionalDetails,
		Status:            issue.Status,
		Timestamp:         issue.Timestamp,
		UpdatedAt:         issue.UpdatedAt,
	}
	if withScreenshot {
		resp.Screenshot = issue.Screenshot
	}
	return resp
}

func ToIssueListResponse(issues []model.Issue) []*IssueResponse {
	out := make([]*IssueResponse, 0, len(issues))
	for i := range issues {
		out = append(out, ToIssueResponse(&issues[i], false))
	}
	return out
}
