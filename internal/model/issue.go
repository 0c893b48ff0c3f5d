package model

import "time"

type IssueStatus string

const (
	IssueStatusSubmitted IssueStatus = "submitted"
	IssueStatusResolved  IssueStatus = "resolved"
)

func (s IssueStatus) Valid() bool {
	return s == IssueStatusSubmitted || s == IssueStatusResolved
}

const Unknown = "unknown"

type PageInfo struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

type SystemInfo struct {
	Platform         string    `json:"platform"`
	UserAgent        string    `json:"userAgent"`
	Language         string    `json:"language"`
	ScreenResolution string    `json:"screenResolution"`
	Timestamp        time.Time `json:"timestamp"`
}

// WithDefaults fills empty fields with "unknown" and a zero timestamp with now.
func (s SystemInfo) WithDefaults(now time.Time) SystemInfo {
	if s.Platform == "" {
		s.Platform = Unknown
	}
	if s.UserAgent == "" {
		s.UserAgent = Unknown
	}
	if s.Language == "" {
		s.Language = Unknown
	}
	if s.ScreenResolution == "" {
		s.ScreenResolution = Unknown
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	return s
}

// Suggestion is one remediation hint. Confidence is in [0,1].
type Suggestion struct {
	Text       string  `json:"text" jsonschema:"description=One concrete step the user can take to resolve the issue"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1,description=How likely the step is to help"`
}

// Issue is a captured problem report. ID, Status and Timestamp are assigned
// when the issue store commits it.
type Issue struct {
	ID                string       `json:"id"`
	PageInfo          PageInfo     `json:"pageInfo"`
	SystemInfo        SystemInfo   `json:"systemInfo"`
	Screenshot        string       `json:"screenshot"`
	OCRText           string       `json:"ocrText"`
	Suggestions       []Suggestion `json:"suggestions"`
	AdditionalDetails string       `json:"additionalDetails,omitempty"`
	Status            IssueStatus  `json:"status"`
	Timestamp         time.Time    `json:"timestamp"`
	UpdatedAt         *time.Time   `json:"updatedAt,omitempty"`
}
