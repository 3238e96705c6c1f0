package llm

import (
	"context"
	"encoding/json"

	"github.com/joseph-ayodele/bill-trends/constants"
)

// ExtractRequest carries one bill to the model: its decoded text, or an image for vision runs.
type ExtractRequest struct {
	Text string
	Kind constants.DocKind

	// ImagePath is set for vision requests; the image is attached and Text is ignored.
	ImagePath string
}

// FieldExtractor is the interface our pipeline depends on. Implementations return the raw
// schema-valid JSON object; typing happens in extract.ValidateJSON.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (json.RawMessage, error)
}
