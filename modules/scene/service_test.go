package scene

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"eai-studio-server/modules/common/gemini"
	"eai-studio-server/modules/common/lock"
	"eai-studio-server/modules/common/utils"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type modelFunc func(ctx context.Context, req *gemini.Request) (*gemini.Response, error)

// fakeModel - routes text-modality calls to identify and image calls to generate
type fakeModel struct {
	mu       sync.Mutex
	requests []*gemini.Request
	identify modelFunc
	generate modelFunc
}

func (f *fakeModel) Generate(ctx context.Context, req *gemini.Request) (*gemini.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if len(req.Modalities) > 0 && req.Modalities[0] == gemini.ModalityText {
		if f.identify == nil {
			return textResponse("Seat Ibiza"), nil
		}
		return f.identify(ctx, req)
	}
	if f.generate == nil {
		return imageResponse(), nil
	}
	return f.generate(ctx, req)
}

func (f *fakeModel) imageCalls() []*gemini.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*gemini.Request
	for _, r := range f.requests {
		if r.Modalities[0] == gemini.ModalityImage {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeFetcher struct {
	calls int
	img   *utils.EncodedImage
	err   error
}

func (f *fakeFetcher) EncodeFromURL(ctx context.Context, rawURL string) (*utils.EncodedImage, error) {
	f.calls++
	return f.img, f.err
}

func textResponse(s string) *gemini.Response {
	return &gemini.Response{Parts: []gemini.Part{gemini.TextPart(s)}}
}

var generatedPNG = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}()

func imageResponse() *gemini.Response {
	return &gemini.Response{Parts: []gemini.Part{
		gemini.TextPart("Aquí tienes tu escena"),
		gemini.ImagePart(&utils.EncodedImage{Data: generatedPNG, MediaType: "image/png"}),
	}}
}

func newTestService(model gemini.Model, fetcher BackgroundFetcher, timeout time.Duration) *Service {
	return NewService(model, fetcher, lock.NewMemoryGuard(), &Composer{HouseBackground: "fondo-final.jpg"}, ServiceConfig{
		ImageModel: "gemini-2.5-flash-image",
		TextModel:  "gemini-2.5-flash",
		Timeout:    timeout,
	}, zerolog.Nop())
}

func TestGenerateValidation(t *testing.T) {
	model := &fakeModel{}
	fetcher := &fakeFetcher{}
	svc := newTestService(model, fetcher, time.Second)

	req := &SceneRequest{Kind: KindExterior, Car: CarSource{Uploaded: carPNG}}
	attempt, err := svc.Generate(context.Background(), "s1", req, nil)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "background", validationErr.Field)
	assert.Equal(t, 0, model.callCount())
	assert.Equal(t, 0, fetcher.calls)
	assert.Equal(t, StateFailed, attempt.State())
	assert.Empty(t, attempt.Calls())
}

func TestGenerateExterior(t *testing.T) {
	model := &fakeModel{}
	svc := newTestService(model, &fakeFetcher{}, time.Second)

	var progress []string
	attempt, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), func(msg string) {
		progress = append(progress, msg)
	})
	require.NoError(t, err)

	artifact := attempt.Artifact()
	require.NotNil(t, artifact)
	assert.Equal(t, "Seat Ibiza", artifact.IdentifiedModel)
	assert.True(t, artifact.Identified)
	assert.Equal(t, generatedPNG, artifact.Image.Data)
	assert.Equal(t, attempt.Id, artifact.AttemptId)

	assert.Equal(t, StateDone, attempt.State())
	assert.Equal(t, []SubCall{CallIdentify, CallGenerate}, attempt.Calls())
	assert.Equal(t, []string{msgPreparing, msgIdentifying, msgGeneratingExterior, msgDone}, progress)
	assert.Empty(t, attempt.Warning())

	calls := model.imageCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gemini-2.5-flash-image", calls[0].Model)
	require.Len(t, calls[0].Parts, 3)
	assert.Same(t, bgJPEG, calls[0].Parts[1].Image)
	assert.Same(t, carPNG, calls[0].Parts[2].Image)
}

func TestGenerateIdentificationFallback(t *testing.T) {
	model := &fakeModel{
		identify: func(ctx context.Context, req *gemini.Request) (*gemini.Response, error) {
			return nil, &gemini.InvocationError{Msg: "boom", StatusCode: 500}
		},
	}
	svc := newTestService(model, &fakeFetcher{}, time.Second)

	attempt, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), nil)
	require.NoError(t, err)

	artifact := attempt.Artifact()
	assert.Equal(t, FallbackModelLabel, artifact.IdentifiedModel)
	assert.False(t, artifact.Identified)
	assert.Equal(t, msgIdentifyWarning, attempt.Warning())
	assert.Equal(t, []SubCall{CallIdentify, CallGenerate}, attempt.Calls())
}

func TestGenerateUnknownIdentification(t *testing.T) {
	model := &fakeModel{
		identify: func(ctx context.Context, req *gemini.Request) (*gemini.Response, error) {
			return textResponse("Desconocido."), nil
		},
	}
	svc := newTestService(model, &fakeFetcher{}, time.Second)

	attempt, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackModelLabel, attempt.Artifact().IdentifiedModel)
}

func TestGenerateFromDescriptionSkipsIdentification(t *testing.T) {
	model := &fakeModel{}
	svc := newTestService(model, &fakeFetcher{}, time.Second)

	req := &SceneRequest{
		Kind:       KindExterior,
		Car:        CarSource{Description: &CarDescription{Make: "Seat", Model: "León", Year: "2020"}},
		Background: &Background{Uploaded: bgJPEG},
	}
	attempt, err := svc.Generate(context.Background(), "s1", req, nil)
	require.NoError(t, err)

	assert.Equal(t, "Seat León 2020", attempt.Artifact().IdentifiedModel)
	assert.Equal(t, []SubCall{CallGenerate}, attempt.Calls())
}

func TestGenerateBackgroundFromURL(t *testing.T) {
	t.Run("fetched background is attached", func(t *testing.T) {
		fetched := &utils.EncodedImage{Data: []byte("remote"), MediaType: "image/webp"}
		model := &fakeModel{}
		svc := newTestService(model, &fakeFetcher{img: fetched}, time.Second)

		req := exteriorUploadRequest()
		req.Background = &Background{URL: "https://example.com/fondo.webp"}

		var progress []string
		attempt, err := svc.Generate(context.Background(), "s1", req, func(msg string) { progress = append(progress, msg) })
		require.NoError(t, err)

		assert.Equal(t, []SubCall{CallIdentify, CallFetchBackground, CallGenerate}, attempt.Calls())
		assert.Contains(t, progress, msgDownloading)
		assert.Same(t, fetched, model.imageCalls()[0].Parts[1].Image)
		assert.Equal(t, "https://example.com/fondo.webp", req.Background.URL, "request is not mutated")
	})

	t.Run("non-image content never reaches generation", func(t *testing.T) {
		model := &fakeModel{}
		fetcher := &fakeFetcher{err: &utils.InvalidContentError{URL: "https://example.com/page", ContentType: "text/html"}}
		svc := newTestService(model, fetcher, time.Second)

		req := exteriorUploadRequest()
		req.Background = &Background{URL: "https://example.com/page"}

		attempt, err := svc.Generate(context.Background(), "s1", req, nil)
		var invalid *utils.InvalidContentError
		require.ErrorAs(t, err, &invalid)

		assert.Empty(t, model.imageCalls())
		assert.Equal(t, StateFailed, attempt.State())
		assert.Contains(t, UserMessage(err), "sin problemas de CORS")
		code, status := ErrorCode(err)
		assert.Equal(t, "BACKGROUND_ERROR", code)
		assert.Equal(t, 422, status)
	})
}

func TestGenerateFailures(t *testing.T) {
	t.Run("empty result", func(t *testing.T) {
		model := &fakeModel{generate: func(ctx context.Context, req *gemini.Request) (*gemini.Response, error) {
			return textResponse("no puedo"), nil
		}}
		svc := newTestService(model, &fakeFetcher{}, time.Second)

		attempt, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), nil)
		assert.ErrorIs(t, err, ErrEmptyResult)
		assert.Nil(t, attempt.Artifact())
		assert.Equal(t, "El modelo no devolvió una imagen. Por favor, inténtalo de nuevo.", UserMessage(err))
	})

	t.Run("timeout is distinct from empty result", func(t *testing.T) {
		model := &fakeModel{generate: func(ctx context.Context, req *gemini.Request) (*gemini.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		svc := newTestService(model, &fakeFetcher{}, 20*time.Millisecond)

		_, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), nil)
		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, CallGenerate, timeoutErr.Call)
		assert.NotErrorIs(t, err, ErrEmptyResult)

		code, status := ErrorCode(err)
		assert.Equal(t, "TIMEOUT", code)
		assert.Equal(t, 504, status)
	})

	t.Run("caller cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		model := &fakeModel{generate: func(c context.Context, req *gemini.Request) (*gemini.Response, error) {
			cancel()
			return nil, c.Err()
		}}
		svc := newTestService(model, &fakeFetcher{}, time.Second)

		_, err := svc.Generate(ctx, "s1", exteriorUploadRequest(), nil)
		assert.ErrorIs(t, err, context.Canceled)
		var timeoutErr *TimeoutError
		assert.False(t, errors.As(err, &timeoutErr))
	})

	t.Run("safety block", func(t *testing.T) {
		model := &fakeModel{generate: func(ctx context.Context, req *gemini.Request) (*gemini.Response, error) {
			return nil, &gemini.InvocationError{Msg: "blocked", Blocked: true, Reason: "IMAGE_SAFETY"}
		}}
		svc := newTestService(model, &fakeFetcher{}, time.Second)

		_, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), nil)
		code, _ := ErrorCode(err)
		assert.Equal(t, "SAFETY_BLOCKED", code)
		assert.Contains(t, UserMessage(err), "filtro de seguridad")
	})

	t.Run("panicking progress callback is ignored", func(t *testing.T) {
		svc := newTestService(&fakeModel{}, &fakeFetcher{}, time.Second)

		attempt, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), func(string) {
			panic("ui went away")
		})
		require.NoError(t, err)
		assert.Equal(t, StateDone, attempt.State())
	})
}

func TestGenerateConcurrencyGuard(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	model := &fakeModel{generate: func(ctx context.Context, req *gemini.Request) (*gemini.Response, error) {
		close(started)
		<-unblock
		return imageResponse(), nil
	}}
	svc := newTestService(model, &fakeFetcher{}, 5*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), nil)
		done <- err
	}()
	<-started

	_, err := svc.Generate(context.Background(), "s1", exteriorUploadRequest(), nil)
	assert.ErrorIs(t, err, ErrAttemptInProgress)
	code, status := ErrorCode(err)
	assert.Equal(t, "ATTEMPT_IN_PROGRESS", code)
	assert.Equal(t, 409, status)

	close(unblock)
	require.NoError(t, <-done)

	model.generate = nil
	_, err = svc.Generate(context.Background(), "s1", exteriorUploadRequest(), nil)
	assert.NoError(t, err, "guard released after the first attempt")
}

func TestRegenerate(t *testing.T) {
	previous := &Artifact{
		Image:           &utils.EncodedImage{Data: []byte("previous"), MediaType: "image/png"},
		IdentifiedModel: "Seat Ibiza",
		Identified:      true,
		AttemptId:       "first",
	}

	t.Run("attaches the previous result", func(t *testing.T) {
		model := &fakeModel{}
		svc := newTestService(model, &fakeFetcher{}, time.Second)

		attempt, err := svc.Regenerate(context.Background(), "s1", previous, exteriorUploadRequest(), nil)
		require.NoError(t, err)

		assert.Equal(t, []SubCall{CallRegenerate}, attempt.Calls())
		calls := model.imageCalls()
		require.Len(t, calls, 1)
		require.Len(t, calls[0].Parts, 4)
		assert.Same(t, previous.Image, calls[0].Parts[3].Image)

		artifact := attempt.Artifact()
		assert.Equal(t, "Seat Ibiza", artifact.IdentifiedModel)
		assert.NotEqual(t, previous.AttemptId, artifact.AttemptId)
	})

	t.Run("failure leaves the previous artifact untouched", func(t *testing.T) {
		model := &fakeModel{generate: func(ctx context.Context, req *gemini.Request) (*gemini.Response, error) {
			return &gemini.Response{}, nil
		}}
		svc := newTestService(model, &fakeFetcher{}, time.Second)

		attempt, err := svc.Regenerate(context.Background(), "s1", previous, exteriorUploadRequest(), nil)
		assert.ErrorIs(t, err, ErrEmptyResult)
		assert.Nil(t, attempt.Artifact())
		assert.Equal(t, []byte("previous"), previous.Image.Data)
		assert.Equal(t, "first", previous.AttemptId)
	})

	t.Run("requires a previous exterior result", func(t *testing.T) {
		model := &fakeModel{}
		svc := newTestService(model, &fakeFetcher{}, time.Second)

		_, err := svc.Regenerate(context.Background(), "s1", nil, exteriorUploadRequest(), nil)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "previous", validationErr.Field)

		interior := &SceneRequest{Kind: KindInterior, Car: CarSource{Uploaded: carPNG}}
		_, err = svc.Regenerate(context.Background(), "s1", previous, interior, nil)
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "sceneKind", validationErr.Field)
		assert.Equal(t, 0, model.callCount())
	})
}

func TestCleanLabel(t *testing.T) {
	assert.Equal(t, "Seat Ibiza", cleanLabel("  \"Seat Ibiza\".\nExtra"))
	assert.Equal(t, "", cleanLabel("   "))
	assert.Len(t, []rune(cleanLabel(string(bytes.Repeat([]byte("a"), 100)))), 60)
}
