package scene

import (
	"fmt"
	"strings"

	"eai-studio-server/modules/common/gemini"
	"eai-studio-server/modules/common/utils"
)

// Attachment - an image sent after the instruction text
type Attachment struct {
	Role  Role
	Image *utils.EncodedImage
}

// Prompt - instruction text plus ordered attachments for one model call
type Prompt struct {
	Scenario    Scenario
	Instruction string
	Attachments []Attachment
}

// Parts - instruction first, then the attachments in order
func (p *Prompt) Parts() []gemini.Part {
	parts := make([]gemini.Part, 0, len(p.Attachments)+1)
	parts = append(parts, gemini.TextPart(p.Instruction))
	for _, a := range p.Attachments {
		parts = append(parts, gemini.ImagePart(a.Image))
	}
	return parts
}

// Roles - attachment roles in order
func (p *Prompt) Roles() []Role {
	roles := make([]Role, len(p.Attachments))
	for i, a := range p.Attachments {
		roles[i] = a.Role
	}
	return roles
}

// Composer - builds prompts; holds only fixed assets, so Compose is deterministic
type Composer struct {
	// HouseBackground is the filename of the dealership's own background
	HouseBackground string
	Logo            *utils.EncodedImage
}

type composeInput struct {
	req         *SceneRequest
	opts        Options
	attachments []Attachment
	regenerate  bool
}

// ScenarioFor - prompt variant for a request
func ScenarioFor(req *SceneRequest, regenerate bool) Scenario {
	fromDescription := req.Car.Uploaded == nil && req.Car.Description != nil

	switch {
	case req.Kind == KindInterior && req.Options.InteriorView == InteriorDetail:
		return ScenarioInteriorDetail
	case req.Kind == KindInterior:
		return ScenarioInteriorGeneral
	case regenerate && fromDescription:
		return ScenarioRegenerateDescription
	case regenerate:
		return ScenarioRegenerateUpload
	case fromDescription:
		return ScenarioExteriorDescription
	default:
		return ScenarioExteriorUpload
	}
}

// Compose - instruction and attachments for a validated request.
// The background must already be an uploaded or fetched image; previous is the
// image to correct when regenerating, nil otherwise.
func (c *Composer) Compose(req *SceneRequest, previous *utils.EncodedImage) *Prompt {
	scenario := ScenarioFor(req, previous != nil)
	def := scenarios[scenario]

	in := &composeInput{
		req:        req,
		opts:       req.Options.withDefaults(),
		regenerate: previous != nil,
	}

	for _, s := range def.slots {
		img := c.imageFor(s.role, req, previous)
		if img == nil {
			continue
		}
		in.attachments = append(in.attachments, Attachment{Role: s.role, Image: img})
	}

	paragraphs := make([]string, 0, len(def.fragments))
	for _, f := range def.fragments {
		if text := f(c, in); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}

	return &Prompt{
		Scenario:    scenario,
		Instruction: strings.Join(paragraphs, "\n\n"),
		Attachments: in.attachments,
	}
}

func (c *Composer) imageFor(role Role, req *SceneRequest, previous *utils.EncodedImage) *utils.EncodedImage {
	switch role {
	case RoleBackground:
		if req.Background != nil {
			return req.Background.Uploaded
		}
	case RoleCar:
		return req.Car.Uploaded
	case RoleLogo:
		return c.Logo
	case RolePrevious:
		return previous
	}
	return nil
}

func (c *Composer) isHouseBackground(req *SceneRequest) bool {
	if c.HouseBackground == "" || req.Background == nil || req.Background.Uploaded == nil {
		return false
	}
	return req.Background.Uploaded.Filename == c.HouseBackground
}

func (o Options) withDefaults() Options {
	if o.Perspective == "" {
		o.Perspective = PerspectiveFront
	}
	if o.InteriorView == "" {
		o.InteriorView = InteriorGeneral
	}
	o.LicensePlate = strings.TrimSpace(o.LicensePlate)
	o.Kilometers = strings.TrimSpace(o.Kilometers)
	return o
}

// IdentificationPrompt - asks for make and model only
func IdentificationPrompt() string {
	return "Identifica la marca y el modelo del coche de la imagen. " +
		"Responde únicamente con la marca y el modelo (por ejemplo: \"Seat Ibiza\"), sin ninguna otra palabra. " +
		"Si no puedes identificarlo, responde \"desconocido\"."
}

func introExteriorUpload(c *Composer, in *composeInput) string {
	return "Añade el coche de la imagen de referencia COCHE a la imagen de FONDO. " +
		"Haz que la imagen final parezca una fotografía real de alta calidad, con iluminación, sombras y reflejos realistas."
}

func introExteriorDescription(c *Composer, in *composeInput) string {
	d := in.req.Car.Description
	subject := d.Label()
	if color := strings.TrimSpace(d.Color); color != "" {
		subject += " de color " + color
	}
	return fmt.Sprintf("Genera un coche %s y colócalo en la imagen de FONDO. ", subject) +
		"No se adjunta ninguna foto del coche: reprodúcelo fielmente a partir de esta descripción, con el diseño real de ese modelo y año. " +
		"Haz que la imagen final parezca una fotografía real de alta calidad, con iluminación, sombras y reflejos realistas."
}

func introInterior(c *Composer, in *composeInput) string {
	return "Dada la imagen del interior de un coche, genera una nueva imagen fotorrealista de calidad de estudio. " +
		"Elimina por completo la vista del exterior a través de las ventanillas y el parabrisas y reemplázala con un fondo de estudio neutro y limpio, " +
		"con un ligero desenfoque para mantener el enfoque en el interior. " +
		"Mejora la iluminación para resaltar los detalles del salpicadero, los asientos y el volante."
}

func references(c *Composer, in *composeInput) string {
	lines := make([]string, 0, len(in.attachments))
	for i, a := range in.attachments {
		d := roleDescriptions[a.Role]
		lines = append(lines, fmt.Sprintf("Imagen de referencia %d (%s): %s", i+1, d.label, d.text))
	}
	return strings.Join(lines, "\n")
}

func correction(c *Composer, in *composeInput) string {
	return "Corrige el INTENTO ANTERIOR: ajusta la escala y la posición del coche para que se integre de forma natural en el FONDO, " +
		"con un tamaño proporcional al entorno, las ruedas apoyadas en el suelo y una perspectiva coherente con la cámara. " +
		"Mantén todo lo demás igual que en el intento anterior."
}

func placement(c *Composer, in *composeInput) string {
	if c.isHouseBackground(in.req) {
		return "El coche debe colocarse en la plataforma giratoria central. " +
			"Posiciona el coche de manera que su techo quede justo debajo del letrero \"World Cars\", " +
			"y asegúrate de que el coche se vea grande y prominente en la escena."
	}
	return "Coloca el coche en el punto focal natural del fondo, apoyado en el suelo, con una escala realista, " +
		"y asegúrate de que se vea grande y prominente en la escena."
}

func pose(c *Composer, in *composeInput) string {
	return poses[in.opts.Perspective]
}

func licensePlate(c *Composer, in *composeInput) string {
	if plate := in.opts.LicensePlate; plate != "" {
		return fmt.Sprintf("La matrícula del coche debe mostrar exactamente el texto \"%s\", legible y con el formato de matrícula correspondiente.", plate)
	}
	if in.req.Car.Uploaded == nil {
		return "Genera el coche sin matrícula."
	}
	return "Si no puedes replicar perfectamente la matrícula de la foto original del coche, genera el coche sin matrícula."
}

func signage(c *Composer, in *composeInput) string {
	if c.isHouseBackground(in.req) {
		return "El letrero \"World Cars\" en la imagen de fondo debe permanecer como está en la imagen original; no lo cambies a un estilo de neón naranja."
	}
	return "Si alguna vez tienes que añadir un letrero o cartel de \"World Cars\", debe ser en estilo de neón naranja."
}

func interiorGeneralView(c *Composer, in *composeInput) string {
	return "Es una vista general del habitáculo: mantén visibles el salpicadero, los asientos y el volante tal como aparecen en la foto."
}

func interiorDetailView(c *Composer, in *composeInput) string {
	return "Es una foto de detalle (por ejemplo, el cuadro de instrumentos, la consola central o el volante): " +
		"mantén el mismo primer plano y resalta la textura y los acabados de los materiales."
}

func cameraAngle(c *Composer, in *composeInput) string {
	return "Conserva exactamente el mismo ángulo de cámara, encuadre y distancia focal de la foto original. " +
		"No reencuadres, no recortes, no amplíes ni cambies la perspectiva."
}

func interiorClean(c *Composer, in *composeInput) string {
	return "Limpia el interior del coche eliminando cualquier objeto personal o desorden, como papeles, botellas u otros artículos " +
		"que puedan estar en los asientos, especialmente en el asiento del copiloto, o en el salpicadero. " +
		"Si el interior original está sucio, con manchas en la tapicería o polvo, la imagen generada deberá mostrarlo completamente limpio, como si estuviera nuevo. " +
		"El interior debe verse impecable, como si fuera de exposición."
}

func extremeClean(c *Composer, in *composeInput) string {
	if !in.opts.ExtremeClean {
		return ""
	}
	return "LIMPIEZA EXTREMA: todos los plásticos negros, molduras y alfombrillas que aparezcan descoloridos, grisáceos o desgastados " +
		"deben mostrarse en un negro profundo e intenso, como recién restaurados."
}

func odometer(c *Composer, in *composeInput) string {
	if in.opts.Kilometers == "" {
		return ""
	}
	return fmt.Sprintf("Si el cuentakilómetros es visible, debe mostrar exactamente %s km.", in.opts.Kilometers)
}

func warningLights(c *Composer, in *composeInput) string {
	return "No inventes testigos ni luces de advertencia en el cuadro de instrumentos que no estén encendidos en la imagen original."
}

func additional(c *Composer, in *composeInput) string {
	if strings.TrimSpace(in.opts.AdditionalInstructions) == "" {
		return ""
	}
	return "Instrucciones adicionales: " + in.opts.AdditionalInstructions
}
