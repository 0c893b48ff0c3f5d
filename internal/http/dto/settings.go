package dto

import "github.com/EddyChen/diagno-core/internal/settings"

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors"`
}

type ListLogsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func ToValidationErrorResponse(v settings.Validation) *ValidationErrorResponse {
	return &ValidationErrorResponse{
		Error:  "invalid settings",
		Errors: v.Errors,
	}
}
