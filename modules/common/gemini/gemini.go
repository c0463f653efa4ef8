package gemini

import (
	"context"
	"strings"

	"eai-studio-server/modules/common/utils"
)

// Modality - output modality requested from the model
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
)

// Part - one ordered request/response part: text or an inline image
type Part struct {
	Text  string
	Image *utils.EncodedImage
}

// TextPart - text part
func TextPart(s string) Part { return Part{Text: s} }

// ImagePart - inline image part
func ImagePart(img *utils.EncodedImage) Part { return Part{Image: img} }

// Request - a single generateContent call
type Request struct {
	Model       string
	Parts       []Part
	Modalities  []Modality
	Temperature *float32
}

// Response - the parts returned by the model, in order
type Response struct {
	Parts        []Part
	FinishReason string
}

// FirstImage - first part carrying inline image bytes, nil when there is none
func (r *Response) FirstImage() *utils.EncodedImage {
	if r == nil {
		return nil
	}
	for _, p := range r.Parts {
		if p.Image != nil && len(p.Image.Data) > 0 {
			return p.Image
		}
	}
	return nil
}

// Text - concatenated text parts, trimmed
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}

// Model - the remote generative model capability
type Model interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}
