package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/EddyChen/diagno-core/common/llm"
	"github.com/EddyChen/diagno-core/internal/model"
)

const ocrPrompt = "Please analyze this screenshot and describe any visible issues or error messages. " +
	"Extract all text that might be relevant to understanding the problem."

const analysisPromptTemplate = `You are a web application troubleshooting assistant. Please analyze the following information and provide specific suggestions to resolve the issue:

Page Info:
- URL: %s
- Title: %s

Extracted Text from Screenshot:
%s

System Info:
- Platform: %s
- Browser: %s

Please provide 3-5 specific suggestions to resolve the issue. Format each suggestion as a JSON object with 'text' and 'confidence' properties.
Return a JSON array whose elements match this schema:
%s`

var dataURLPrefix = regexp.MustCompile(`^data:image/(png|jpg|jpeg);base64,`)

var suggestionSchema = mustSchemaJSON(llm.GenerateSchema[model.Suggestion]())

func mustSchemaJSON(schema any) string {
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("pipeline: suggestion schema: %v", err))
	}
	return string(raw)
}

// StripDataURL removes a data:image/(png|jpg|jpeg);base64, prefix if present.
func StripDataURL(screenshot string) string {
	return dataURLPrefix.ReplaceAllString(screenshot, "")
}

func analysisPrompt(issue model.Issue) string {
	return fmt.Sprintf(analysisPromptTemplate,
		issue.PageInfo.URL,
		issue.PageInfo.Title,
		issue.OCRText,
		issue.SystemInfo.Platform,
		issue.SystemInfo.UserAgent,
		suggestionSchema,
	)
}
