package domain

import "context"

// Provider is the interface all generative AI backends implement.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

// Part is one piece of a prompt: either text or inline binary data.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// IsInline reports whether the part is an attachment. Zero-length data still counts.
func (p Part) IsInline() bool { return p.MIMEType != "" }

// TextPart builds a text prompt part.
func TextPart(text string) Part { return Part{Text: text} }

// InlinePart builds an inline attachment part.
func InlinePart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

type GenerateRequest struct {
	Parts       []Part
	Model       string // optional: override provider default model
	MaxTokens   int
	Temperature float64
}

type GenerateResponse struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
