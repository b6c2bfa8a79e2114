package models

// QualityTier is the coarse provenance classification of a record.
type QualityTier string

const (
	TierIndividual QualityTier = "individual"
	TierListing    QualityTier = "listing"
	TierAggregated QualityTier = "aggregated"
	TierEstimated  QualityTier = "estimated"
)

// Base returns the fixed base score of the tier. Unknown tiers score 0.
func (t QualityTier) Base() float64 {
	switch t {
	case TierIndividual:
		return 100
	case TierListing:
		return 90
	case TierAggregated:
		return 50
	case TierEstimated:
		return 25
	default:
		return 0
	}
}

// IsValid reports whether t is a known tier.
func (t QualityTier) IsValid() bool {
	return t.Base() > 0
}

// DefaultConfidence applies when neither the source nor an enrichment step
// lowers it.
const DefaultConfidence = 1.0

// QualityScore is tier base multiplied by confidence.
func QualityScore(tier QualityTier, confidence float64) float64 {
	return tier.Base() * confidence
}
