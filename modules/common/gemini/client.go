package gemini

import (
	"context"
	"errors"
	"fmt"

	"eai-studio-server/modules/common/config"
	"eai-studio-server/modules/common/utils"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// contentGenerator - the slice of genai.Models the client uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenaiModel - Model backed by google.golang.org/genai (Gemini API or Vertex AI)
type GenaiModel struct {
	models contentGenerator
	log    zerolog.Logger
}

// NewGenaiModel - create the genai client from config
func NewGenaiModel(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*GenaiModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.UseVertex() {
		clientCfg = &genai.ClientConfig{
			Project:  cfg.GoogleCloudProject,
			Location: cfg.GoogleCloudLocation,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		log.Error().Err(err).Msg("❌ [Gemini] Failed to create Genai client")
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	log.Info().Msgf("✅ [Gemini] Genai client initialized (vertex: %v)", cfg.UseVertex())
	return &GenaiModel{models: client.Models, log: log}, nil
}

// Generate - one generateContent call with the ordered parts as a single user turn
func (m *GenaiModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		switch {
		case p.Image != nil:
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: p.Image.MediaType, Data: p.Image.Data},
			})
		case p.Text != "":
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
	}
	if len(parts) == 0 {
		return nil, &InvocationError{Msg: "request has no parts"}
	}

	genCfg := &genai.GenerateContentConfig{Temperature: req.Temperature}
	for _, modality := range req.Modalities {
		genCfg.ResponseModalities = append(genCfg.ResponseModalities, string(modality))
	}

	m.log.Debug().Msgf("📤 [Gemini] Calling %s with %d parts...", req.Model, len(parts))
	result, err := m.models.GenerateContent(ctx, req.Model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, genCfg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		m.log.Error().Err(err).Msgf("❌ [Gemini] %s call failed", req.Model)
		return nil, wrapError(err)
	}

	return convertResponse(result)
}

// convertResponse - flatten candidates into parts, surfacing safety blocks
func convertResponse(result *genai.GenerateContentResponse) (*Response, error) {
	if result == nil {
		return &Response{}, nil
	}

	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, &InvocationError{
			Msg:     "request blocked by safety filter",
			Blocked: true,
			Reason:  string(fb.BlockReason),
		}
	}

	resp := &Response{}
	for i, candidate := range result.Candidates {
		if candidate == nil {
			continue
		}
		if i == 0 {
			resp.FinishReason = string(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				resp.Parts = append(resp.Parts, ImagePart(&utils.EncodedImage{
					Data:      part.InlineData.Data,
					MediaType: part.InlineData.MIMEType,
				}))
				continue
			}
			if part.Text != "" {
				resp.Parts = append(resp.Parts, TextPart(part.Text))
			}
		}
	}

	if resp.FirstImage() == nil && safetyFinishReasons[resp.FinishReason] {
		return nil, &InvocationError{
			Msg:     "response blocked by safety filter",
			Blocked: true,
			Reason:  resp.FinishReason,
		}
	}

	return resp, nil
}

// asAPIError - genai returns APIError by value; accept a pointer too
func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}
