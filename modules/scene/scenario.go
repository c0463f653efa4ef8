package scene

// Scenario - one prompt variant
type Scenario string

const (
	ScenarioExteriorUpload        Scenario = "exterior-upload"
	ScenarioExteriorDescription   Scenario = "exterior-description"
	ScenarioInteriorGeneral       Scenario = "interior-general"
	ScenarioInteriorDetail        Scenario = "interior-detail"
	ScenarioRegenerateUpload      Scenario = "regenerate-upload"
	ScenarioRegenerateDescription Scenario = "regenerate-description"
)

// Role - what an attached image is
type Role string

const (
	RoleBackground Role = "background"
	RoleCar        Role = "car"
	RoleLogo       Role = "logo"
	RolePrevious   Role = "previous"
)

// slot - one attachment position; optional slots are dropped when their image is absent
type slot struct {
	role     Role
	optional bool
}

// fragment - one instruction paragraph, "" to skip
type fragment func(c *Composer, in *composeInput) string

type scenarioDef struct {
	slots     []slot
	fragments []fragment
}

// scenarios - attachment order and paragraph order per variant.
// The model reads the images in the order they are attached.
var scenarios = map[Scenario]scenarioDef{
	ScenarioExteriorUpload: {
		slots: []slot{{role: RoleBackground}, {role: RoleCar}},
		fragments: []fragment{
			introExteriorUpload, references, placement, pose, licensePlate, signage, additional,
		},
	},
	ScenarioExteriorDescription: {
		slots: []slot{{role: RoleBackground}, {role: RoleLogo, optional: true}},
		fragments: []fragment{
			introExteriorDescription, references, placement, pose, licensePlate, signage, additional,
		},
	},
	ScenarioInteriorGeneral: {
		slots: []slot{{role: RoleCar}},
		fragments: []fragment{
			introInterior, references, interiorGeneralView, cameraAngle, interiorClean, extremeClean, odometer, warningLights, additional,
		},
	},
	ScenarioInteriorDetail: {
		slots: []slot{{role: RoleCar}},
		fragments: []fragment{
			introInterior, references, interiorDetailView, cameraAngle, interiorClean, extremeClean, odometer, warningLights, additional,
		},
	},
	ScenarioRegenerateUpload: {
		slots: []slot{{role: RoleBackground}, {role: RoleCar}, {role: RolePrevious}},
		fragments: []fragment{
			introExteriorUpload, references, correction, placement, pose, licensePlate, signage, additional,
		},
	},
	ScenarioRegenerateDescription: {
		slots: []slot{{role: RoleBackground}, {role: RoleLogo, optional: true}, {role: RolePrevious}},
		fragments: []fragment{
			introExteriorDescription, references, correction, placement, pose, licensePlate, signage, additional,
		},
	},
}

type roleDescription struct {
	label string
	text  string
}

// roleDescriptions - reference line per attachment role
var roleDescriptions = map[Role]roleDescription{
	RoleBackground: {"FONDO", "la escena de fondo. Consérvala tal cual, sin cambiar su encuadre, iluminación ni elementos."},
	RoleCar:        {"COCHE", "el coche de referencia. Reproduce exactamente su carrocería, color, llantas y detalles."},
	RoleLogo:       {"LOGOTIPO", "el logotipo del concesionario. Si lo usas, colócalo de forma discreta en el marco de la matrícula, sin deformarlo."},
	RolePrevious:   {"INTENTO ANTERIOR", "una versión previa de esta misma composición que hay que corregir."},
}

// poses - camera pose per perspective
var poses = map[Perspective]string{
	PerspectiveFront: "Muestra el coche en una vista frontal de tres cuartos, con las ruedas delanteras giradas hacia la cámara.",
	PerspectiveSide:  "Muestra el coche estrictamente de perfil lateral, paralelo al plano de la imagen, sin ninguna rotación hacia la cámara.",
	PerspectiveRear:  "Muestra el coche en una vista trasera de tres cuartos dramática, tomada desde un ángulo bajo.",
}
