package extractor

import (
	"math"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

// ConfidenceFunc scores an extraction from the document's declared quality and format.
type ConfidenceFunc func(doc domain.Document, format domain.Format) float64

const (
	baseConfidence = 85.0
	qualityWeight  = 0.3
	nativePDFBonus = 10.0
	minConfidence  = 60.0
	maxConfidence  = 100.0
	neutralQuality = 50.0
)

// QualityConfidence is the default ConfidenceFunc.
func QualityConfidence(doc domain.Document, format domain.Format) float64 {
	c := baseConfidence
	if doc.Quality != nil {
		c += (doc.Quality.Overall - neutralQuality) * qualityWeight
	}
	if format == domain.FormatPDFNative {
		c += nativePDFBonus
	}
	return clampConfidence(c)
}

// blend averages the local score with the engine's own, when it reported one.
func blend(local, engine float64) float64 {
	if engine <= 0 {
		return local
	}
	return clampConfidence((local + engine) / 2)
}

func clampConfidence(c float64) float64 {
	c = math.Round(c*100) / 100
	return math.Max(minConfidence, math.Min(maxConfidence, c))
}
