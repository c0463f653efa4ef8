package scene

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"eai-studio-server/modules/common/gemini"
	"eai-studio-server/modules/common/utils"
)

// ErrEmptyResult - the model answered without an image
var ErrEmptyResult = errors.New("model returned no image")

// ErrAttemptInProgress - the session already has an outstanding attempt
var ErrAttemptInProgress = errors.New("generation attempt already in progress")

const corsHint = "Asegúrate de que la URL sea una imagen directa y accesible (sin problemas de CORS)."

// ValidationError - a required field is missing or malformed
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IdentificationError - the optional identification call failed; never fatal
type IdentificationError struct {
	Err error
}

func (e *IdentificationError) Error() string {
	return fmt.Sprintf("model identification failed: %v", e.Err)
}

func (e *IdentificationError) Unwrap() error { return e.Err }

// TimeoutError - a model call exceeded the configured deadline
type TimeoutError struct {
	Call  SubCall
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Call, e.After)
}

var kilometersPattern = regexp.MustCompile(`^[0-9][0-9.,\s]*$`)

// Validate - completeness check; runs before any network call
func (r *SceneRequest) Validate() error {
	switch r.Kind {
	case KindExterior, KindInterior:
	default:
		return &ValidationError{Field: "sceneKind", Message: "Por favor, elige una escena exterior o interior."}
	}

	if r.Car.Uploaded != nil && r.Car.Description != nil {
		return &ValidationError{Field: "car", Message: "Sube una imagen del coche o descríbelo, pero no ambas cosas."}
	}

	if r.Kind == KindInterior {
		if r.Car.Uploaded == nil {
			return &ValidationError{Field: "car", Message: "Por favor, sube una imagen del coche."}
		}
	} else {
		if r.Car.Uploaded == nil && r.Car.Description == nil {
			return &ValidationError{Field: "car", Message: "Por favor, sube una imagen del coche o describe el vehículo."}
		}
		if d := r.Car.Description; d != nil && (strings.TrimSpace(d.Make) == "" || strings.TrimSpace(d.Model) == "") {
			return &ValidationError{Field: "car", Message: "Por favor, indica al menos la marca y el modelo del coche."}
		}
		if err := r.validateBackground(); err != nil {
			return err
		}
	}

	switch r.Options.Perspective {
	case "", PerspectiveFront, PerspectiveSide, PerspectiveRear:
	default:
		return &ValidationError{Field: "perspective", Message: "La perspectiva debe ser front, side o rear."}
	}
	switch r.Options.InteriorView {
	case "", InteriorGeneral, InteriorDetail:
	default:
		return &ValidationError{Field: "interiorView", Message: "La vista interior debe ser general o detail."}
	}

	if km := strings.TrimSpace(r.Options.Kilometers); km != "" && !kilometersPattern.MatchString(km) {
		return &ValidationError{Field: "kilometers", Message: "El kilometraje debe ser un número."}
	}

	return nil
}

func (r *SceneRequest) validateBackground() error {
	bg := r.Background
	if bg == nil || (bg.Uploaded == nil && strings.TrimSpace(bg.URL) == "") {
		return &ValidationError{Field: "background", Message: "Por favor, proporciona un fondo (archivo o URL)."}
	}
	if bg.Uploaded != nil && bg.URL != "" {
		return &ValidationError{Field: "background", Message: "Usa un archivo o una URL como fondo, no ambos."}
	}
	return nil
}

// UserMessage - the single message shown to the user for a failed attempt
func UserMessage(err error) string {
	var (
		validationErr *ValidationError
		fetchErr      *utils.FetchError
		invalidErr    *utils.InvalidContentError
		timeoutErr    *TimeoutError
		invocationErr *gemini.InvocationError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return validationErr.Message
	case errors.As(err, &invalidErr):
		return fmt.Sprintf("Error: la URL de fondo no apunta a una imagen (tipo de contenido %q). %s", invalidErr.ContentType, corsHint)
	case errors.As(err, &fetchErr):
		if fetchErr.StatusCode != 0 {
			return fmt.Sprintf("Error: no se pudo descargar la imagen de fondo (estado HTTP %d). %s", fetchErr.StatusCode, corsHint)
		}
		return "Error: no se pudo descargar la imagen de fondo. " + corsHint
	case errors.Is(err, ErrEmptyResult):
		return "El modelo no devolvió una imagen. Por favor, inténtalo de nuevo."
	case errors.Is(err, ErrAttemptInProgress):
		return "Ya hay una generación en curso. Espera a que termine."
	case errors.As(err, &timeoutErr):
		return "La IA ha tardado demasiado en responder. Por favor, inténtalo de nuevo."
	case errors.As(err, &invocationErr) && invocationErr.Blocked:
		return "El filtro de seguridad del modelo ha bloqueado la solicitud. Prueba con otras imágenes o instrucciones."
	case errors.As(err, &invocationErr) && invocationErr.RateLimited():
		return "El servicio de IA está saturado en este momento. Por favor, inténtalo de nuevo en unos minutos."
	case errors.As(err, &invocationErr):
		return "Error al generar la escena del coche con el modelo de IA. Por favor, inténtalo de nuevo."
	case errors.Is(err, context.Canceled):
		return "La solicitud ha sido cancelada."
	default:
		return "Ocurrió un error desconocido. Por favor, inténtalo de nuevo."
	}
}

// ErrorCode - machine-readable code and HTTP status for a failed attempt
func ErrorCode(err error) (string, int) {
	var (
		validationErr *ValidationError
		fetchErr      *utils.FetchError
		invalidErr    *utils.InvalidContentError
		timeoutErr    *TimeoutError
		invocationErr *gemini.InvocationError
	)

	switch {
	case errors.As(err, &validationErr):
		return "VALIDATION_ERROR", http.StatusBadRequest
	case errors.As(err, &invalidErr), errors.As(err, &fetchErr):
		return "BACKGROUND_ERROR", http.StatusUnprocessableEntity
	case errors.Is(err, ErrEmptyResult):
		return "EMPTY_RESULT", http.StatusBadGateway
	case errors.Is(err, ErrAttemptInProgress):
		return "ATTEMPT_IN_PROGRESS", http.StatusConflict
	case errors.As(err, &timeoutErr):
		return "TIMEOUT", http.StatusGatewayTimeout
	case errors.As(err, &invocationErr) && invocationErr.Blocked:
		return "SAFETY_BLOCKED", http.StatusBadGateway
	case errors.As(err, &invocationErr):
		return "MODEL_ERROR", http.StatusBadGateway
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}
