package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

type Origin string

const (
	OriginManualUpload Origin = "manual_upload"
	OriginEmail        Origin = "email"
	OriginScanner      Origin = "scanner"
	OriginAPI          Origin = "api"
)

type Confidentiality string

const (
	ConfidentialityPublic       Confidentiality = "public"
	ConfidentialityInternal     Confidentiality = "internal"
	ConfidentialityConfidential Confidentiality = "confidential"
	ConfidentialitySecret       Confidentiality = "secret"
)

func ParseConfidentiality(v string) (Confidentiality, bool) {
	switch c := Confidentiality(strings.ToLower(strings.TrimSpace(v))); c {
	case ConfidentialityPublic, ConfidentialityInternal, ConfidentialityConfidential, ConfidentialitySecret:
		return c, true
	case "":
		return ConfidentialityInternal, true
	default:
		return "", false
	}
}

func ParseOrigin(v string) (Origin, bool) {
	switch o := Origin(strings.ToLower(strings.TrimSpace(v))); o {
	case OriginManualUpload, OriginEmail, OriginScanner, OriginAPI:
		return o, true
	case "":
		return OriginManualUpload, true
	default:
		return "", false
	}
}

// ImageQuality carries the scan quality signals declared at upload, 0-100.
type ImageQuality struct {
	Overall    float64 `json:"overall"`
	Sharpness  float64 `json:"sharpness,omitempty"`
	Contrast   float64 `json:"contrast,omitempty"`
	Brightness float64 `json:"brightness,omitempty"`
}

// Document is the immutable source of a pipeline run.
type Document struct {
	ID              string          `json:"id"`
	StorageKey      string          `json:"storage_key"`
	Filename        string          `json:"filename"`
	MimeType        string          `json:"mime_type"`
	Size            int64           `json:"size"`
	Origin          Origin          `json:"origin"`
	Confidentiality Confidentiality `json:"confidentiality"`
	SubmittedBy     string          `json:"submitted_by"`
	Quality         *ImageQuality   `json:"quality,omitempty"`
	UploadedAt      time.Time       `json:"uploaded_at"`
}

// Fingerprint is a cache key derived from a document's identity, size and declared type.
type Fingerprint string

func FingerprintOf(doc Document) Fingerprint {
	sum := sha256.Sum256([]byte(doc.ID + "|" + strconv.FormatInt(doc.Size, 10) + "|" + strings.ToLower(doc.MimeType)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}
