package analysis

import "time"

// Record pairs one submitted bill image with its generated analysis.
// Records are immutable once created.
type Record struct {
	ID           string    `json:"id"`
	ImageData    string    `json:"image_data"`    // data:<mime>;base64,<payload>
	AnalysisText string    `json:"analysis_text"` // markdown
	CreatedAt    time.Time `json:"created_at"`
}
