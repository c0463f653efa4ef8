package scene

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"eai-studio-server/modules/common/gemini"
	"eai-studio-server/modules/common/lock"
	"eai-studio-server/modules/common/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FallbackModelLabel - identified model when identification is skipped or fails
const FallbackModelLabel = "Coche"

const (
	msgPreparing          = "Preparando imágenes y generando tu escena..."
	msgPreparingRegen     = "Preparando la regeneración de tu escena..."
	msgIdentifying        = "Identificando el modelo del coche..."
	msgDownloading        = "Descargando imagen de fondo desde la URL..."
	msgGeneratingExterior = "La IA está creando tu escena, esto puede tardar un momento..."
	msgGeneratingInterior = "La IA está creando tu escena interior..."
	msgRegenerating       = "La IA está corrigiendo la escala y la posición del coche..."
	msgDone               = "¡Tu escena está lista!"
	msgIdentifyWarning    = "No se pudo identificar el modelo del coche; se usará un nombre genérico."
)

// BackgroundFetcher - downloads a background image by URL
type BackgroundFetcher interface {
	EncodeFromURL(ctx context.Context, rawURL string) (*utils.EncodedImage, error)
}

// ServiceConfig - orchestrator settings
type ServiceConfig struct {
	ImageModel  string
	TextModel   string
	Timeout     time.Duration // per model call
	AttemptTTL  time.Duration // guard expiry, bounds a crashed attempt
	Temperature *float32
}

// Service - runs generation attempts
type Service struct {
	model    gemini.Model
	fetcher  BackgroundFetcher
	guard    lock.Guard
	composer *Composer
	cfg      ServiceConfig
	log      zerolog.Logger
}

// NewService - all collaborators are injected
func NewService(model gemini.Model, fetcher BackgroundFetcher, guard lock.Guard, composer *Composer, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = 5 * time.Minute
	}
	return &Service{
		model:    model,
		fetcher:  fetcher,
		guard:    guard,
		composer: composer,
		cfg:      cfg,
		log:      log,
	}
}

// Generate - validate, identify, resolve the background and generate.
// The returned attempt is never nil; on failure its Err matches the returned error.
func (s *Service) Generate(ctx context.Context, sessionKey string, req *SceneRequest, onProgress ProgressFunc) (*Attempt, error) {
	attempt := newAttempt(uuid.NewString(), onProgress, s.log)
	s.log.Info().Msgf("🎨 [Scene] Attempt %s: generate %s (session %s)", attempt.Id, req.Kind, sessionKey)

	attempt.transition(StateValidating, msgPreparing)
	if err := req.Validate(); err != nil {
		return attempt, attempt.fail(err)
	}

	release, err := s.acquire(ctx, sessionKey)
	if err != nil {
		return attempt, attempt.fail(err)
	}
	defer release()

	ident := s.identifyStep(ctx, attempt, req)

	resolved := *req
	if req.Kind == KindExterior {
		bg, err := s.resolveBackground(ctx, attempt, req.Background)
		if err != nil {
			return attempt, attempt.fail(err)
		}
		resolved.Background = bg
	}

	msg := msgGeneratingExterior
	if req.Kind == KindInterior {
		msg = msgGeneratingInterior
	}
	attempt.transition(StateGenerating, msg)

	prompt := s.composer.Compose(&resolved, nil)
	img, err := s.invokeImage(ctx, attempt, CallGenerate, prompt)
	if err != nil {
		return attempt, attempt.fail(err)
	}

	attempt.succeed(&Artifact{
		Image:           img,
		IdentifiedModel: ident.label,
		Identified:      ident.err == nil,
		AttemptId:       attempt.Id,
		CreatedAt:       time.Now(),
	}, msgDone)

	s.log.Info().Msgf("✅ [Scene] Attempt %s done: %s, %d bytes", attempt.Id, prompt.Scenario, len(img.Data))
	return attempt, nil
}

// Regenerate - re-run an exterior scene with the previous result attached for correction.
// previous is never modified.
func (s *Service) Regenerate(ctx context.Context, sessionKey string, previous *Artifact, req *SceneRequest, onProgress ProgressFunc) (*Attempt, error) {
	attempt := newAttempt(uuid.NewString(), onProgress, s.log)
	s.log.Info().Msgf("🔁 [Scene] Attempt %s: regenerate (session %s)", attempt.Id, sessionKey)

	attempt.transition(StateValidating, msgPreparingRegen)
	if previous == nil || previous.Image == nil || len(previous.Image.Data) == 0 {
		return attempt, attempt.fail(&ValidationError{Field: "previous", Message: "No hay una escena anterior para regenerar."})
	}
	if req.Kind != KindExterior {
		return attempt, attempt.fail(&ValidationError{Field: "sceneKind", Message: "Solo se pueden regenerar escenas exteriores."})
	}
	if err := req.Validate(); err != nil {
		return attempt, attempt.fail(err)
	}

	release, err := s.acquire(ctx, sessionKey)
	if err != nil {
		return attempt, attempt.fail(err)
	}
	defer release()

	resolved := *req
	bg, err := s.resolveBackground(ctx, attempt, req.Background)
	if err != nil {
		return attempt, attempt.fail(err)
	}
	resolved.Background = bg

	attempt.transition(StateRegenerating, msgRegenerating)

	prompt := s.composer.Compose(&resolved, previous.Image)
	img, err := s.invokeImage(ctx, attempt, CallRegenerate, prompt)
	if err != nil {
		return attempt, attempt.fail(err)
	}

	attempt.succeed(&Artifact{
		Image:           img,
		IdentifiedModel: previous.IdentifiedModel,
		Identified:      previous.Identified,
		AttemptId:       attempt.Id,
		CreatedAt:       time.Now(),
	}, msgDone)

	s.log.Info().Msgf("✅ [Scene] Attempt %s regenerated: %d bytes", attempt.Id, len(img.Data))
	return attempt, nil
}

// acquire - one outstanding attempt per session; guard backend failures do not block generation
func (s *Service) acquire(ctx context.Context, sessionKey string) (func(), error) {
	if sessionKey == "" || s.guard == nil {
		return func() {}, nil
	}

	release, err := s.guard.Acquire(ctx, sessionKey, s.cfg.AttemptTTL)
	switch {
	case err == nil:
		return release, nil
	case errors.Is(err, lock.ErrLocked):
		return nil, ErrAttemptInProgress
	default:
		s.log.Warn().Err(err).Msgf("⚠️  [Scene] Attempt guard unavailable for session %s, continuing unguarded", sessionKey)
		return func() {}, nil
	}
}

// identification - outcome of the optional identification step
type identification struct {
	label string
	err   error
}

// identifyStep - label from the description, or from an identification call on the uploaded photo
func (s *Service) identifyStep(ctx context.Context, attempt *Attempt, req *SceneRequest) identification {
	if req.Car.Uploaded == nil {
		if d := req.Car.Description; d != nil && d.Label() != "" {
			return identification{label: d.Label()}
		}
		return identification{label: FallbackModelLabel, err: &IdentificationError{Err: errors.New("no car to identify")}}
	}

	attempt.transition(StateIdentifyingModel, msgIdentifying)
	attempt.record(CallIdentify)

	result := s.identify(ctx, req.Car.Uploaded)
	if result.err != nil {
		s.log.Warn().Err(result.err).Msgf("⚠️  [Scene] Attempt %s: identification failed, using %q", attempt.Id, FallbackModelLabel)
		attempt.setWarning(msgIdentifyWarning)
		return identification{label: FallbackModelLabel, err: result.err}
	}

	s.log.Info().Msgf("🔎 [Scene] Attempt %s: identified %q", attempt.Id, result.label)
	return result
}

func (s *Service) identify(ctx context.Context, car *utils.EncodedImage) identification {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.model.Generate(callCtx, &gemini.Request{
		Model:      s.cfg.TextModel,
		Parts:      []gemini.Part{gemini.TextPart(IdentificationPrompt()), gemini.ImagePart(car)},
		Modalities: []gemini.Modality{gemini.ModalityText},
	})
	if err != nil {
		return identification{err: &IdentificationError{Err: s.callError(ctx, callCtx, CallIdentify, err)}}
	}

	label := cleanLabel(resp.Text())
	if label == "" || strings.EqualFold(label, "desconocido") {
		return identification{err: &IdentificationError{Err: fmt.Errorf("no usable label in %q", resp.Text())}}
	}
	return identification{label: label}
}

// cleanLabel - first line, without quotes or trailing punctuation, bounded
func cleanLabel(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.Trim(strings.TrimSpace(line), "\"'`*.")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > 60 {
		line = string([]rune(line)[:60])
	}
	return line
}

func (s *Service) resolveBackground(ctx context.Context, attempt *Attempt, bg *Background) (*Background, error) {
	if bg.Uploaded != nil {
		attempt.transition(StateAwaitingBackground, "")
		return bg, nil
	}

	attempt.transition(StateAwaitingBackground, msgDownloading)
	attempt.record(CallFetchBackground)

	img, err := s.fetcher.EncodeFromURL(ctx, bg.URL)
	if err != nil {
		s.log.Error().Err(err).Msgf("❌ [Scene] Attempt %s: background fetch failed", attempt.Id)
		return nil, err
	}
	s.log.Info().Msgf("📎 [Scene] Attempt %s: background downloaded (%s, %d bytes)", attempt.Id, img.MediaType, len(img.Data))
	return &Background{Uploaded: img}, nil
}

func (s *Service) invokeImage(ctx context.Context, attempt *Attempt, call SubCall, prompt *Prompt) (*utils.EncodedImage, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	attempt.record(call)
	s.log.Info().Msgf("📤 [Scene] Attempt %s: %s (%s, %d attachments)", attempt.Id, call, prompt.Scenario, len(prompt.Attachments))

	resp, err := s.model.Generate(callCtx, &gemini.Request{
		Model:       s.cfg.ImageModel,
		Parts:       prompt.Parts(),
		Modalities:  []gemini.Modality{gemini.ModalityImage},
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		err = s.callError(ctx, callCtx, call, err)
		s.log.Error().Err(err).Msgf("❌ [Scene] Attempt %s: %s failed", attempt.Id, call)
		return nil, err
	}

	img := resp.FirstImage()
	if img == nil {
		s.log.Warn().Msgf("⚠️  [Scene] Attempt %s: no image in response (finish reason %q)", attempt.Id, resp.FinishReason)
		return nil, ErrEmptyResult
	}
	if img.MediaType == "" {
		img.MediaType = "image/png"
	}
	return img, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// callError - our own deadline becomes TimeoutError; caller cancellation stays a context error
func (s *Service) callError(parent, callCtx context.Context, call SubCall, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s abandoned: %w", call, parent.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Call: call, After: s.cfg.Timeout}
	}
	return err
}
