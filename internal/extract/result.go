package extract

import "time"

// Status marks whether an extraction produced content or failed outright.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Metadata holds the page description fields that are extracted on every
// run regardless of plan. Missing fields are empty strings, never errors.
type Metadata struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Keywords      string `json:"keywords"`
	OGTitle       string `json:"og_title"`
	OGDescription string `json:"og_description"`
	OGImage       string `json:"og_image"`
}

// Article is the readability-style main-content isolation result.
type Article struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Image is one extracted image reference, src resolved against the page URL.
type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt"`
	Width  string `json:"width,omitempty"`
	Height string `json:"height,omitempty"`
}

// Link is one extracted anchor, href resolved against the page URL.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Table is one extracted table in three renderings: sanitized HTML, a
// markdown table, and rows of header-keyed cells.
type Table struct {
	HTML     string              `json:"html"`
	Markdown string              `json:"markdown"`
	Rows     []map[string]string `json:"rows"`
}

// Fragment is the output of one custom CSS selector match.
type Fragment struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
}

// Result is the structured output of one extraction run. When Status is
// StatusError, ErrorMessage is the only populated content field.
type Result struct {
	Metadata     Metadata   `json:"metadata"`
	Article      *Article   `json:"article,omitempty"`
	Text         string     `json:"text,omitempty"`
	Images       []Image    `json:"images,omitempty"`
	Links        []Link     `json:"links,omitempty"`
	Tables       []Table    `json:"tables,omitempty"`
	Custom       []Fragment `json:"custom,omitempty"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SourceURL    string     `json:"source_url"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// ErrorResult builds the failure shape: status, message, source, timestamp
// and nothing else.
func ErrorResult(sourceURL, message string) Result {
	return Result{
		Status:       StatusError,
		ErrorMessage: message,
		SourceURL:    sourceURL,
		FetchedAt:    time.Now().UTC(),
	}
}
