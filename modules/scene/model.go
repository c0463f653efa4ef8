package scene

import (
	"strings"
	"time"

	"eai-studio-server/modules/common/utils"
)

// SceneKind - exterior (car + background) or interior (cabin only)
type SceneKind string

const (
	KindExterior SceneKind = "exterior"
	KindInterior SceneKind = "interior"
)

// Perspective - exterior camera pose
type Perspective string

const (
	PerspectiveFront Perspective = "front"
	PerspectiveSide  Perspective = "side"
	PerspectiveRear  Perspective = "rear"
)

// InteriorView - interior framing
type InteriorView string

const (
	InteriorGeneral InteriorView = "general"
	InteriorDetail  InteriorView = "detail"
)

// BackgroundMethod - explicit background selector from the form
type BackgroundMethod string

const (
	BackgroundUpload BackgroundMethod = "upload"
	BackgroundURL    BackgroundMethod = "url"
)

// CarDescription - textual car subject
type CarDescription struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  string `json:"year"`
	Color string `json:"color"`
}

// Label - "Make Model Year"
func (d *CarDescription) Label() string {
	return strings.Join(strings.Fields(strings.Join([]string{d.Make, d.Model, d.Year}, " ")), " ")
}

// CarSource - exactly one of Uploaded or Description
type CarSource struct {
	Uploaded    *utils.EncodedImage
	Description *CarDescription
}

// Background - exactly one of Uploaded or URL
type Background struct {
	Uploaded *utils.EncodedImage
	URL      string
}

// Options - optional form fields
type Options struct {
	LicensePlate           string
	ExtremeClean           bool
	Kilometers             string
	AdditionalInstructions string
	Perspective            Perspective
	InteriorView           InteriorView
}

// SceneRequest - everything one generation attempt needs
type SceneRequest struct {
	Kind       SceneKind
	Car        CarSource
	Background *Background
	Options    Options
}

// ResolveBackground - pick one background source; the file wins unless the selector says url
func ResolveBackground(method BackgroundMethod, file *utils.EncodedImage, rawURL string) *Background {
	rawURL = strings.TrimSpace(rawURL)

	switch {
	case method == BackgroundURL && rawURL != "":
		return &Background{URL: rawURL}
	case method == BackgroundURL:
		return nil
	case file != nil:
		return &Background{Uploaded: file}
	case method == "" && rawURL != "":
		return &Background{URL: rawURL}
	default:
		return nil
	}
}

// Artifact - raw model output plus the identified model label
type Artifact struct {
	Image           *utils.EncodedImage
	IdentifiedModel string
	// Identified is false when IdentifiedModel is the fallback label
	Identified bool
	AttemptId  string
	CreatedAt  time.Time
}

// State - orchestrator state of one attempt
type State string

const (
	StateIdle               State = "idle"
	StateValidating         State = "validating"
	StateIdentifyingModel   State = "identifying_model"
	StateAwaitingBackground State = "awaiting_background"
	StateGenerating         State = "generating"
	StateRegenerating       State = "regenerating"
	StateDone               State = "done"
	StateFailed             State = "failed"
)
