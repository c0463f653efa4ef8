// Package annotate overlays the mileage and disclaimer bands on generated scenes.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"eai-studio-server/modules/common/utils"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Disclaimer - fixed legal sentence in the bottom band
const Disclaimer = "Imagen generada con IA con fines ilustrativos. El vehículo real puede presentar diferencias."

const (
	disclaimerRatio     = 0.07
	mileageRatio        = 0.10
	disclaimerFontRatio = 0.40
	mileageFontRatio    = 0.45
	maxTextWidthRatio   = 0.92
)

// bandColor - black at 70% opacity
var bandColor = color.NRGBA{R: 0, G: 0, B: 0, A: 179}

// Layout - band rectangles for an image; Mileage is empty without kilometers
type Layout struct {
	Mileage    image.Rectangle
	Disclaimer image.Rectangle
}

// Height - total band height
func (l Layout) Height() int {
	return l.Mileage.Dy() + l.Disclaimer.Dy()
}

// ComputeLayout - depends only on the image bounds and whether mileage is shown
func ComputeLayout(bounds image.Rectangle, withMileage bool) Layout {
	h := bounds.Dy()
	disclaimerH := int(math.Round(float64(h) * disclaimerRatio))
	var layout Layout
	layout.Disclaimer = image.Rect(bounds.Min.X, bounds.Max.Y-disclaimerH, bounds.Max.X, bounds.Max.Y)

	if withMileage {
		mileageH := int(math.Round(float64(h) * mileageRatio))
		top := layout.Disclaimer.Min.Y - mileageH
		layout.Mileage = image.Rect(bounds.Min.X, top, bounds.Max.X, layout.Disclaimer.Min.Y)
	}
	return layout
}

// MileageText - upper band text
func MileageText(kilometers string) string {
	return fmt.Sprintf("Kilometraje: %s km", kilometers)
}

// Annotated - final image handed to the client
type Annotated struct {
	Image *utils.EncodedImage
	// Annotated is false when the raw image was returned unchanged
	Annotated bool
	Layout    Layout
}

// Annotator - draws bands and re-encodes
type Annotator struct {
	format  string
	quality int
	log     zerolog.Logger
}

// NewAnnotator - format is "jpeg" or "webp"
func NewAnnotator(format string, quality int, log zerolog.Logger) *Annotator {
	return &Annotator{format: format, quality: quality, log: log}
}

var (
	goFont     *opentype.Font
	goFontErr  error
	goFontOnce sync.Once
)

func loadFont() (*opentype.Font, error) {
	goFontOnce.Do(func() {
		goFont, goFontErr = opentype.Parse(goregular.TTF)
	})
	return goFont, goFontErr
}

// Annotate - draw the bands on a copy of raw. Never fails: any error returns raw unchanged.
func (a *Annotator) Annotate(raw *utils.EncodedImage, kilometers string) *Annotated {
	unchanged := &Annotated{Image: raw}
	if raw == nil || len(raw.Data) == 0 {
		return unchanged
	}

	src, _, err := utils.Decode(raw.Data)
	if err != nil {
		a.log.Warn().Err(err).Msg("⚠️  [Annotate] Could not decode raw image, returning it unannotated")
		return unchanged
	}

	f, err := loadFont()
	if err != nil {
		a.log.Warn().Err(err).Msg("⚠️  [Annotate] Font unavailable, returning image unannotated")
		return unchanged
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	layout := ComputeLayout(bounds, kilometers != "")
	band := image.NewUniform(bandColor)

	if !layout.Mileage.Empty() {
		draw.Draw(dst, layout.Mileage, band, image.Point{}, draw.Over)
		if err := drawCentered(dst, f, layout.Mileage, MileageText(kilometers), mileageFontRatio); err != nil {
			a.log.Warn().Err(err).Msg("⚠️  [Annotate] Failed to draw mileage text")
			return unchanged
		}
	}
	if !layout.Disclaimer.Empty() {
		draw.Draw(dst, layout.Disclaimer, band, image.Point{}, draw.Over)
		if err := drawCentered(dst, f, layout.Disclaimer, Disclaimer, disclaimerFontRatio); err != nil {
			a.log.Warn().Err(err).Msg("⚠️  [Annotate] Failed to draw disclaimer text")
			return unchanged
		}
	}

	encoded, err := utils.Encode(dst, a.format, a.quality)
	if err != nil {
		a.log.Warn().Err(err).Msg("⚠️  [Annotate] Re-encode failed, returning image unannotated")
		return unchanged
	}
	encoded.Filename = raw.Filename

	return &Annotated{Image: encoded, Annotated: true, Layout: layout}
}

// drawCentered - white text centered in band; size is ratio of the band height,
// reduced only when the text would not fit the band width
func drawCentered(dst draw.Image, f *opentype.Font, band image.Rectangle, text string, ratio float64) error {
	size := float64(band.Dy()) * ratio
	if size < 1 {
		return nil
	}

	face, err := newFace(f, size)
	if err != nil {
		return err
	}
	d := &font.Drawer{Dst: dst, Src: image.White, Face: face}

	maxWidth := float64(band.Dx()) * maxTextWidthRatio
	if width := float64(d.MeasureString(text).Ceil()); width > maxWidth {
		face.Close()
		if face, err = newFace(f, size*maxWidth/width); err != nil {
			return err
		}
		d.Face = face
	}
	defer face.Close()

	metrics := face.Metrics()
	textWidth := d.MeasureString(text).Ceil()
	x := band.Min.X + (band.Dx()-textWidth)/2
	y := band.Min.Y + (band.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2

	d.Dot = fixed.P(x, y)
	d.DrawString(text)
	return nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
