package constants

import "strings"

// DocKind identifies which of the two bills a document is.
type DocKind string

const (
	DocKindRecent DocKind = "recent"
	DocKindOld    DocKind = "old"
)

// ParseDocKind accepts the two upload slots, case-insensitively.
func ParseDocKind(s string) (DocKind, bool) {
	switch DocKind(strings.ToLower(strings.TrimSpace(s))) {
	case DocKindRecent:
		return DocKindRecent, true
	case DocKindOld:
		return DocKindOld, true
	}
	return "", false
}

// Document formats as seen by the extraction chain.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
)

// AllowedMIME holds the upload content types we accept.
var AllowedMIME = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
}

// NormalizeMIME lowercases and strips parameters ("image/png; q=1" -> "image/png").
func NormalizeMIME(mime string) string {
	mt, _, _ := strings.Cut(mime, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// MapMIMEToFormat returns PDF, IMAGE or "" for unsupported types.
func MapMIMEToFormat(mime string) string {
	mt := NormalizeMIME(mime)
	switch {
	case strings.Contains(mt, "pdf"):
		return PDF
	case strings.HasPrefix(mt, "image/"):
		return IMAGE
	}
	return ""
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat is the extension-based twin of MapMIMEToFormat, used by the CLI.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "jpg", "jpeg", "png":
		return IMAGE
	}
	return ""
}

// MIMEForExt guesses the upload type of a local file.
func MIMEForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return "application/pdf"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	}
	return "application/octet-stream"
}

const (
	// MinTextLayerChars is the shortest text layer we trust before falling back to OCR.
	MinTextLayerChars = 80
	// MaxLLMTextChars caps the bill text sent to the model.
	MaxLLMTextChars = 12000
	// MaxVisionMBDefault gates images attached to vision requests.
	MaxVisionMBDefault = 8
)
