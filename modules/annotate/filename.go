package annotate

import (
	"regexp"
	"strings"

	"eai-studio-server/modules/common/utils"
)

// DefaultFilename - download name when no model was identified
const DefaultFilename = "escena-coche"

var (
	whitespace = regexp.MustCompile(`\s+`)
	nonWord    = regexp.MustCompile(`[^\w-]`)
	hyphens    = regexp.MustCompile(`-{2,}`)
)

// Slugify - lowercase, whitespace to hyphens, non-word characters removed
func Slugify(s string) string {
	slug := strings.ToLower(strings.TrimSpace(s))
	slug = whitespace.ReplaceAllString(slug, "-")
	slug = nonWord.ReplaceAllString(slug, "")
	slug = hyphens.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// DownloadFilename - slug of the identified model plus the extension for mediaType
func DownloadFilename(identifiedModel string, identified bool, mediaType string) string {
	name := DefaultFilename
	if identified {
		if slug := Slugify(identifiedModel); slug != "" {
			name = slug
		}
	}
	return name + utils.ExtensionFor(mediaType)
}
