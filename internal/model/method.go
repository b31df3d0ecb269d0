package model

import "strings"

// RecognitionMethod identifies which recognizer produced a candidate
// expression. The built-in set is closed; custom recognizer tags are carried
// verbatim and weighted through ensemble configuration.
type RecognitionMethod string

const (
	// MethodMLRecognizer is the symbolic/ML formula-image recognizer.
	MethodMLRecognizer RecognitionMethod = "mlrecognizer"
	// MethodOCR is the generic-OCR fallback.
	MethodOCR RecognitionMethod = "ocr"
	// MethodKorean is the verbal-formula path (Korean phrasing in page text).
	MethodKorean RecognitionMethod = "korean"
	// MethodManual marks operator-entered corrections.
	MethodManual RecognitionMethod = "manual"
	// MethodUnknown is any tag outside the closed set.
	MethodUnknown RecognitionMethod = "unknown"
)

// AllMethods lists the closed method set, highest precision first.
func AllMethods() []RecognitionMethod {
	return []RecognitionMethod{MethodManual, MethodMLRecognizer, MethodKorean, MethodOCR}
}

// ParseMethod maps a raw detector tag to the closed enum.
func ParseMethod(tag string) RecognitionMethod {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "mlrecognizer", "pix2text", "mfr":
		return MethodMLRecognizer
	case "ocr", "latex_ocr", "tesseract":
		return MethodOCR
	case "korean", "korean_text", "verbal":
		return MethodKorean
	case "manual":
		return MethodManual
	default:
		return MethodUnknown
	}
}
