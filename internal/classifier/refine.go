package classifier

import "github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"

// IngestConfidenceThreshold and QueryConfidenceThreshold gate when a learned
// refinement is allowed to override the regex classifier's primary
// sector.
const (
	IngestConfidenceThreshold = 0.4
	QueryConfidenceThreshold  = 0.5
)

// Refine merges a learned Result into a base (regex) Result. If learned's
// confidence exceeds threshold, its primary replaces base's; either way the
// two additional-sector sets are merged (deduplicated, base's primary kept
// as an additional sector if displaced).
func Refine(base Result, learned Result, threshold float64) Result {
	merged := mergeSectors(base.Additional, learned.Additional)
	primary := base.Primary
	confidence := base.Confidence

	if learned.Confidence > threshold && learned.Primary != base.Primary {
		merged = prependSector(merged, base.Primary)
		primary = learned.Primary
		confidence = learned.Confidence
	}

	filtered := merged[:0:0]
	for _, s := range merged {
		if s != primary {
			filtered = append(filtered, s)
		}
	}

	return Result{Primary: primary, Additional: filtered, Confidence: confidence}
}

func mergeSectors(a, b []model.Sector) []model.Sector {
	seen := make(map[model.Sector]bool, len(a)+len(b))
	out := make([]model.Sector, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
