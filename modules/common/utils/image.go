package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"strings"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// EncodedImage - binary image payload plus its media type
type EncodedImage struct {
	Data      []byte
	MediaType string
	// Filename is the original upload name, empty for fetched or generated images
	Filename string
}

// Base64 - payload as standard base64
func (e *EncodedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Data)
}

// DataURL - payload as data:<mediaType>;base64,...
func (e *EncodedImage) DataURL() string {
	return ToDataURL(e.Data, e.MediaType)
}

// ToDataURL - wrap bytes in a data URL
func ToDataURL(data []byte, mediaType string) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// StripDataURL - decode a data URL (or bare base64) into bytes and its media type
func StripDataURL(s string) ([]byte, string, error) {
	mediaType := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ";base64,")
		if idx < 0 {
			return nil, "", fmt.Errorf("unsupported data URL: missing base64 marker")
		}
		mediaType = s[len("data:"):idx]
		payload = s[idx+len(";base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return data, mediaType, nil
}

// Decode - decode JPEG, PNG, GIF or WebP bytes
func Decode(data []byte) (image.Image, string, error) {
	if isWebP(data) {
		img, err := webp.Decode(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode WebP: %w", err)
		}
		return img, "webp", nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// EncodeJPEG - encode an image as JPEG
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeWebP - encode an image as lossy WebP
func EncodeWebP(img image.Image, quality float32) ([]byte, error) {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode - encode an image in the given output format ("jpeg" or "webp")
func Encode(img image.Image, format string, quality int) (*EncodedImage, error) {
	switch format {
	case "webp":
		data, err := EncodeWebP(img, float32(quality))
		if err != nil {
			return nil, err
		}
		return &EncodedImage{Data: data, MediaType: "image/webp"}, nil
	default:
		data, err := EncodeJPEG(img, quality)
		if err != nil {
			return nil, err
		}
		return &EncodedImage{Data: data, MediaType: "image/jpeg"}, nil
	}
}

// ExtensionFor - file extension for an image media type
func ExtensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
