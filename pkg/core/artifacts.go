// Package core provides the execution model types for visual-runner.
package core

import (
	"fmt"
	"strings"
	"time"
)

// Attachment represents an artifact recorded for a run unit
type Attachment struct {
	Name        string `json:"name"`        // screenshot, diff, baseline
	ContentType string `json:"contentType"` // MIME type
	Path        string `json:"path"`
}

// Attachment names
const (
	AttachmentScreenshot = "screenshot"
	AttachmentDiff       = "diff"
	AttachmentBaseline   = "baseline"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html"
)

// NewImageAttachment creates a PNG attachment
func NewImageAttachment(name, path string) Attachment {
	return Attachment{
		Name:        name,
		ContentType: ContentTypePNG,
		Path:        path,
	}
}

// artifactTimeFormat sorts lexically and is safe in file names.
const artifactTimeFormat = "20060102T150405.000"

// ArtifactName builds a collision-free file name from an identifier and a
// capture time, e.g. "checkout-3-20240102T150405123.png".
func ArtifactName(id string, at time.Time, ext string) string {
	ts := strings.Replace(at.UTC().Format(artifactTimeFormat), ".", "", 1)
	return fmt.Sprintf("%s-%s%s", SanitizeName(id), ts, ext)
}

// SanitizeName replaces characters that are unsafe in file names.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
