package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"eai-studio-server/modules/annotate"
	"eai-studio-server/modules/common/utils"
	"eai-studio-server/modules/session"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// SceneResponse - JSON body of every scene endpoint
type SceneResponse struct {
	Success         bool     `json:"success"`
	SessionId       string   `json:"sessionId,omitempty"`
	AttemptId       string   `json:"attemptId,omitempty"`
	Image           string   `json:"image,omitempty"`    // annotated, data URL
	RawImage        string   `json:"rawImage,omitempty"` // model output, data URL
	Filename        string   `json:"filename,omitempty"`
	IdentifiedModel string   `json:"identifiedModel,omitempty"`
	Annotated       bool     `json:"annotated"`
	Warning         string   `json:"warning,omitempty"`
	Progress        []string `json:"progress,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	ErrorCode       string   `json:"errorCode,omitempty"`
}

// storedResult - last successful artifact of a session, kept in memory for regenerate
type storedResult struct {
	artifact   *Artifact
	kilometers string
}

// Handler - scene HTTP surface
type Handler struct {
	service   *Service
	annotator *annotate.Annotator
	sessions  *session.Manager
	maxBytes  int64
	log       zerolog.Logger

	mu      sync.RWMutex
	results map[string]*storedResult
}

// NewHandler - results are dropped when the session manager cleans up a session
func NewHandler(service *Service, annotator *annotate.Annotator, sessions *session.Manager, maxImageBytes int64, log zerolog.Logger) *Handler {
	h := &Handler{
		service:   service,
		annotator: annotator,
		sessions:  sessions,
		maxBytes:  maxImageBytes,
		log:       log,
		results:   make(map[string]*storedResult),
	}
	sessions.OnRemove(h.forget)
	return h
}

// RegisterRoutes - scene API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/scene").Subrouter()
	api.HandleFunc("/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	api.HandleFunc("/regenerate", h.HandleRegenerate).Methods("POST", "OPTIONS")
	api.HandleFunc("/result/{sessionId}", h.HandleResult).Methods("GET")
}

// HandleGenerate - POST /api/scene/generate (multipart/form-data)
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	sessionId, req, err := h.parseRequest(w, r)
	if err != nil {
		h.writeError(w, sessionId, "", err)
		return
	}

	h.sessions.Touch(sessionId)
	attempt, err := h.service.Generate(r.Context(), sessionId, req, h.progress(sessionId))
	h.finish(w, sessionId, attempt, err, req.Options.Kilometers, nil)
}

// HandleRegenerate - POST /api/scene/regenerate, same fields as generate
func (h *Handler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	sessionId, req, err := h.parseRequest(w, r)
	if err != nil {
		h.writeError(w, sessionId, "", err)
		return
	}

	previous := h.lookup(sessionId)
	var prevArtifact *Artifact
	if previous != nil {
		prevArtifact = previous.artifact
	}

	h.sessions.Touch(sessionId)
	attempt, err := h.service.Regenerate(r.Context(), sessionId, prevArtifact, req, h.progress(sessionId))
	h.finish(w, sessionId, attempt, err, req.Options.Kilometers, previous)
}

// HandleResult - GET /api/scene/result/{sessionId}[?kilometers=]
func (h *Handler) HandleResult(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	stored := h.lookup(sessionId)
	if stored == nil {
		writeJSON(w, http.StatusNotFound, SceneResponse{
			SessionId:    sessionId,
			ErrorMessage: "No hay ninguna escena generada en esta sesión.",
			ErrorCode:    "NOT_FOUND",
		})
		return
	}

	kilometers := stored.kilometers
	if q, ok := r.URL.Query()["kilometers"]; ok {
		kilometers = strings.TrimSpace(q[0])
	}
	writeJSON(w, http.StatusOK, h.success(sessionId, stored.artifact, kilometers))
}

func (h *Handler) progress(sessionId string) ProgressFunc {
	return func(msg string) {
		h.sessions.Publish(sessionId, session.Message{Type: session.TypeProgress, Message: msg})
	}
}

// finish - store and annotate on success; on failure the stored result is left as it was
func (h *Handler) finish(w http.ResponseWriter, sessionId string, attempt *Attempt, err error, kilometers string, previous *storedResult) {
	if err != nil {
		h.sessions.RecordAttempt(false)
		h.sessions.Publish(sessionId, session.Message{Type: session.TypeError, AttemptId: attempt.Id, Message: UserMessage(err)})

		code, status := ErrorCode(err)
		resp := SceneResponse{
			SessionId:    sessionId,
			AttemptId:    attempt.Id,
			Progress:     attempt.Progress(),
			ErrorMessage: UserMessage(err),
			ErrorCode:    code,
		}
		if previous != nil {
			// keep showing the last good scene
			prev := h.success(sessionId, previous.artifact, previous.kilometers)
			resp.Image, resp.RawImage, resp.Filename = prev.Image, prev.RawImage, prev.Filename
			resp.IdentifiedModel, resp.Annotated = prev.IdentifiedModel, prev.Annotated
		}
		h.log.Error().Err(err).Msgf("❌ [Scene] Session %s attempt %s failed (%s)", sessionId, attempt.Id, code)
		writeJSON(w, status, resp)
		return
	}

	artifact := attempt.Artifact()
	h.store(sessionId, &storedResult{artifact: artifact, kilometers: strings.TrimSpace(kilometers)})
	h.sessions.RecordAttempt(true)

	if warning := attempt.Warning(); warning != "" {
		h.sessions.Publish(sessionId, session.Message{Type: session.TypeWarning, AttemptId: attempt.Id, Message: warning})
	}
	h.sessions.Publish(sessionId, session.Message{Type: session.TypeDone, AttemptId: attempt.Id})

	resp := h.success(sessionId, artifact, strings.TrimSpace(kilometers))
	resp.AttemptId = attempt.Id
	resp.Warning = attempt.Warning()
	resp.Progress = attempt.Progress()
	writeJSON(w, http.StatusOK, resp)
}

// success - annotation always starts from the raw artifact
func (h *Handler) success(sessionId string, artifact *Artifact, kilometers string) SceneResponse {
	annotated := h.annotator.Annotate(artifact.Image, kilometers)

	return SceneResponse{
		Success:         true,
		SessionId:       sessionId,
		AttemptId:       artifact.AttemptId,
		Image:           annotated.Image.DataURL(),
		RawImage:        artifact.Image.DataURL(),
		Filename:        annotate.DownloadFilename(artifact.IdentifiedModel, artifact.Identified, annotated.Image.MediaType),
		IdentifiedModel: artifact.IdentifiedModel,
		Annotated:       annotated.Annotated,
	}
}

func (h *Handler) store(sessionId string, result *storedResult) {
	h.mu.Lock()
	h.results[sessionId] = result
	h.mu.Unlock()
}

func (h *Handler) lookup(sessionId string) *storedResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.results[sessionId]
}

func (h *Handler) forget(sessionId string) {
	h.mu.Lock()
	delete(h.results, sessionId)
	h.mu.Unlock()
}

// parseRequest - multipart form to SceneRequest; completeness is left to Validate
func (h *Handler) parseRequest(w http.ResponseWriter, r *http.Request) (string, *SceneRequest, error) {
	// car + background + form fields
	r.Body = http.MaxBytesReader(w, r.Body, 2*h.maxBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, &ValidationError{Field: "form", Message: "El formulario no es válido o las imágenes son demasiado grandes."}
	}

	sessionId := strings.TrimSpace(r.FormValue("sessionId"))
	if sessionId == "" {
		sessionId = uuid.NewString()
	}

	req := &SceneRequest{
		Kind: SceneKind(strings.ToLower(strings.TrimSpace(formDefault(r, "sceneKind", string(KindExterior))))),
		Options: Options{
			LicensePlate:           strings.TrimSpace(r.FormValue("licensePlate")),
			ExtremeClean:           formBool(r, "extremeClean"),
			Kilometers:             strings.TrimSpace(r.FormValue("kilometers")),
			AdditionalInstructions: r.FormValue("additionalInstructions"),
			Perspective:            Perspective(strings.ToLower(strings.TrimSpace(r.FormValue("perspective")))),
			InteriorView:           InteriorView(strings.ToLower(strings.TrimSpace(r.FormValue("interiorView")))),
		},
	}

	car, err := h.formImage(r, "carImage")
	if err != nil {
		return sessionId, nil, err
	}
	if car != nil {
		req.Car.Uploaded = car
	} else if carMake, carModel := strings.TrimSpace(r.FormValue("carMake")), strings.TrimSpace(r.FormValue("carModel")); carMake != "" || carModel != "" {
		req.Car.Description = &CarDescription{
			Make:  carMake,
			Model: carModel,
			Year:  strings.TrimSpace(r.FormValue("carYear")),
			Color: strings.TrimSpace(r.FormValue("carColor")),
		}
	}

	if req.Kind == KindExterior {
		bgFile, err := h.formImage(r, "backgroundImage")
		if err != nil {
			return sessionId, nil, err
		}
		method := BackgroundMethod(strings.ToLower(strings.TrimSpace(r.FormValue("backgroundMethod"))))
		req.Background = ResolveBackground(method, bgFile, r.FormValue("backgroundUrl"))
	}

	h.log.Info().Msgf("🎨 [Scene] Request: session=%s kind=%s car_upload=%v background=%v",
		sessionId, req.Kind, req.Car.Uploaded != nil, req.Background != nil)
	return sessionId, req, nil
}

// formImage - nil when the field is absent
func (h *Handler) formImage(r *http.Request, field string) (*utils.EncodedImage, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "No se pudo leer la imagen subida."}
	}
	defer file.Close()

	return readUpload(file, header, field, h.maxBytes)
}

func readUpload(file multipart.File, header *multipart.FileHeader, field string, maxBytes int64) (*utils.EncodedImage, error) {
	img, err := utils.EncodeReader(file, header.Filename, maxBytes)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("La imagen %q no es válida: debe ser JPEG, PNG, GIF o WebP.", header.Filename)}
	}
	return img, nil
}

func (h *Handler) writeError(w http.ResponseWriter, sessionId, attemptId string, err error) {
	code, status := ErrorCode(err)
	h.log.Warn().Err(err).Msgf("⚠️  [Scene] Rejected request (%s)", code)
	writeJSON(w, status, SceneResponse{
		SessionId:    sessionId,
		AttemptId:    attemptId,
		ErrorMessage: UserMessage(err),
		ErrorCode:    code,
	})
}

func writeJSON(w http.ResponseWriter, status int, body SceneResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func formDefault(r *http.Request, key, def string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return def
}

func formBool(r *http.Request, key string) bool {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}
