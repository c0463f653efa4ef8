package gemini

import (
	"context"
	"errors"
	"testing"

	"eai-studio-server/modules/common/utils"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
	resp        *genai.GenerateContentResponse
	err         error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotContents = contents
	f.gotConfig = cfg
	return f.resp, f.err
}

func candidate(finish genai.FinishReason, parts ...*genai.Part) *genai.Candidate {
	return &genai.Candidate{FinishReason: finish, Content: &genai.Content{Parts: parts}}
}

func TestGenaiModelGenerate(t *testing.T) {
	img := &utils.EncodedImage{Data: []byte{0xff, 0xd8, 0xff}, MediaType: "image/jpeg"}

	t.Run("sends ordered parts as one user turn", func(t *testing.T) {
		fake := &fakeModels{resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{candidate(genai.FinishReasonStop,
				&genai.Part{Text: "listo"},
				&genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2}}},
			)},
		}}
		m := &GenaiModel{models: fake, log: zerolog.Nop()}

		resp, err := m.Generate(context.Background(), &Request{
			Model:      "gemini-2.5-flash-image",
			Parts:      []Part{TextPart("prompt"), ImagePart(img)},
			Modalities: []Modality{ModalityImage},
		})
		require.NoError(t, err)

		assert.Equal(t, "gemini-2.5-flash-image", fake.gotModel)
		require.Len(t, fake.gotContents, 1)
		assert.Equal(t, string(genai.RoleUser), fake.gotContents[0].Role)
		require.Len(t, fake.gotContents[0].Parts, 2)
		assert.Equal(t, "prompt", fake.gotContents[0].Parts[0].Text)
		assert.Equal(t, img.Data, fake.gotContents[0].Parts[1].InlineData.Data)
		assert.Equal(t, []string{"IMAGE"}, fake.gotConfig.ResponseModalities)

		require.NotNil(t, resp.FirstImage())
		assert.Equal(t, []byte{1, 2}, resp.FirstImage().Data)
		assert.Equal(t, "listo", resp.Text())
	})

	t.Run("rejects an empty request", func(t *testing.T) {
		m := &GenaiModel{models: &fakeModels{}, log: zerolog.Nop()}
		_, err := m.Generate(context.Background(), &Request{Model: "x"})
		var invErr *InvocationError
		assert.ErrorAs(t, err, &invErr)
	})

	t.Run("wraps API errors with their status", func(t *testing.T) {
		fake := &fakeModels{err: genai.APIError{Code: 429, Message: "Resource exhausted", Status: "RESOURCE_EXHAUSTED"}}
		m := &GenaiModel{models: fake, log: zerolog.Nop()}

		_, err := m.Generate(context.Background(), &Request{Model: "x", Parts: []Part{TextPart("hola")}})
		var invErr *InvocationError
		require.ErrorAs(t, err, &invErr)
		assert.Equal(t, 429, invErr.StatusCode)
		assert.True(t, invErr.RateLimited())
		assert.False(t, invErr.Blocked)
	})

	t.Run("returns the context error on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fake := &fakeModels{err: errors.New("request canceled")}
		m := &GenaiModel{models: fake, log: zerolog.Nop()}

		_, err := m.Generate(ctx, &Request{Model: "x", Parts: []Part{TextPart("hola")}})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConvertResponse(t *testing.T) {
	t.Run("prompt feedback block", func(t *testing.T) {
		_, err := convertResponse(&genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		})
		assert.True(t, IsBlocked(err))
	})

	t.Run("safety finish without image", func(t *testing.T) {
		_, err := convertResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{candidate(genai.FinishReason("IMAGE_SAFETY"))},
		})
		var invErr *InvocationError
		require.ErrorAs(t, err, &invErr)
		assert.True(t, invErr.Blocked)
		assert.Equal(t, "IMAGE_SAFETY", invErr.Reason)
	})

	t.Run("text only is not an error", func(t *testing.T) {
		resp, err := convertResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{candidate(genai.FinishReasonStop, &genai.Part{Text: "  sin imagen "})},
		})
		require.NoError(t, err)
		assert.Nil(t, resp.FirstImage())
		assert.Equal(t, "sin imagen", resp.Text())
	})

	t.Run("skips thought parts", func(t *testing.T) {
		resp, err := convertResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{candidate(genai.FinishReasonStop,
				&genai.Part{Text: "pensando", Thought: true},
				&genai.Part{Text: "Seat Ibiza"},
			)},
		})
		require.NoError(t, err)
		assert.Equal(t, "Seat Ibiza", resp.Text())
	})

	t.Run("nil response", func(t *testing.T) {
		resp, err := convertResponse(nil)
		require.NoError(t, err)
		assert.Nil(t, resp.FirstImage())
	})
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, wrapError(nil))

	err := wrapError(errors.New("rate limit exceeded"))
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Zero(t, invErr.StatusCode)
	assert.True(t, invErr.RateLimited())

	err = wrapError(genai.APIError{Code: 400, Message: "Blocked for safety reasons"})
	assert.True(t, IsBlocked(err))
}
