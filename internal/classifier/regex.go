// Package classifier assigns sectors to memory content. It combines a fixed
// regex pattern bank (always available) with an optional per-user learned
// linear classifier trained from stored mean vectors.
package classifier

import (
	"regexp"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// Result is the outcome of a classification pass: a primary sector, zero or
// more additional sectors, and a confidence in [0, 1].
type Result struct {
	Primary    model.Sector
	Additional []model.Sector
	Confidence float64
}

// patternBank lists, per sector, the regexes whose matches accrue evidence
// for that sector. Every match counts once; the per-sector importance
// weight (model.SectorWeight) scales the total.
var patternBank = map[model.Sector][]*regexp.Regexp{
	model.SectorEpisodic: {
		regexp.MustCompile(`(?i)\b(today|yesterday|tomorrow|last\s+(week|month|year)|next\s+(week|month|year))\b`),
		regexp.MustCompile(`(?i)\b(remember\s+when|recall|that\s+time|when\s+i|i\s+was|we\s+were)\b`),
		regexp.MustCompile(`(?i)\b(went|saw|met|felt|heard|visited|attended|participated)\b`),
		regexp.MustCompile(`(?i)\b(at\s+\d{1,2}:\d{2}|on\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`),
		regexp.MustCompile(`(?i)\b(event|moment|experience|incident|occurrence|happened)\b`),
		regexp.MustCompile(`(?i)\bi\s+'?m\s+going\s+to\b`),
	},
	model.SectorSemantic: {
		regexp.MustCompile(`(?i)\b(is\s+a|represents|means|stands\s+for|defined\s+as)\b`),
		regexp.MustCompile(`(?i)\b(concept|theory|principle|law|hypothesis|theorem|axiom)\b`),
		regexp.MustCompile(`(?i)\b(fact|statistic|data|evidence|proof|research|study|report)\b`),
		regexp.MustCompile(`(?i)\b(capital|population|distance|weight|height|width|depth)\b`),
		regexp.MustCompile(`(?i)\b(history|science|geography|math|physics|biology|chemistry)\b`),
		regexp.MustCompile(`(?i)\b(know|understand|learn|read|write|speak)\b`),
	},
	model.SectorProcedural: {
		regexp.MustCompile(`(?i)\b(how\s+to|step\s+by\s+step|guide|tutorial|manual|instructions)\b`),
		regexp.MustCompile(`(?i)\b(first|second|then|next|finally|afterwards|lastly)\b`),
		regexp.MustCompile(`(?i)\b(install|run|execute|compile|build|deploy|configure|setup)\b`),
		regexp.MustCompile(`(?i)\b(click|press|type|enter|select|drag|drop|scroll)\b`),
		regexp.MustCompile(`(?i)\b(method|function|class|algorithm|routine|recipe)\b`),
		regexp.MustCompile(`(?i)\b(to\s+do|to\s+make|to\s+build|to\s+create)\b`),
	},
	model.SectorEmotional: {
		regexp.MustCompile(`(?i)\b(feel|feeling|felt|emotions?|mood|vibe)\b`),
		regexp.MustCompile(`(?i)\b(happy|sad|angry|mad|excited|scared|anxious|nervous|depressed)\b`),
		regexp.MustCompile(`(?i)\b(love|hate|like|dislike|adore|detest|enjoy|loathe)\b`),
		regexp.MustCompile(`(?i)\b(amazing|terrible|awesome|awful|wonderful|horrible|great|bad)\b`),
		regexp.MustCompile(`(?i)\b(frustrated|confused|overwhelmed|stressed|relaxed|calm)\b`),
		regexp.MustCompile(`(?i)\b(wow|omg|yay|nooo|ugh|sigh)\b`),
		regexp.MustCompile(`[!]{2,}`),
	},
	model.SectorReflective: {
		regexp.MustCompile(`(?i)\b(realize|realized|realization|insight|epiphany)\b`),
		regexp.MustCompile(`(?i)\b(think|thought|thinking|ponder|contemplate|reflect)\b`),
		regexp.MustCompile(`(?i)\b(understand|understood|understanding|grasp|comprehend)\b`),
		regexp.MustCompile(`(?i)\b(pattern|trend|connection|link|relationship|correlation)\b`),
		regexp.MustCompile(`(?i)\b(lesson|moral|takeaway|conclusion|summary|implication)\b`),
		regexp.MustCompile(`(?i)\b(feedback|review|analysis|evaluation|assessment)\b`),
		regexp.MustCompile(`(?i)\b(improve|grow|change|adapt|evolve)\b`),
	},
}

// Classify scores content against the regex pattern bank: each match
// contributes the sector's importance weight, the primary is the argmax,
// additional sectors score at least 30% of the max (with a floor of 1.0),
// and confidence is first/(first+second+1). A metadata-forced sector
// (metadata.sector or metadata.primary_sector) overrides the computed
// primary, demoting it into the additional list.
func Classify(content string, metadata map[string]any) Result {
	scores := make(map[model.Sector]float64, len(model.AllSectors))
	for _, sector := range model.AllSectors {
		matches := 0
		for _, re := range patternBank[sector] {
			matches += len(re.FindAllStringIndex(content, -1))
		}
		scores[sector] = float64(matches) * model.SectorWeight(sector)
	}

	primary, first, second := argmaxTwo(scores)
	confidence := 0.2
	if first == 0 {
		primary = model.SectorSemantic
	} else {
		confidence = first / (first + second + 1)
		if confidence > 1 {
			confidence = 1
		}
	}

	additional := make([]model.Sector, 0, 2)
	threshold := first * 0.3
	if threshold < 1.0 {
		threshold = 1.0
	}
	for _, sector := range model.AllSectors {
		if sector == primary {
			continue
		}
		if scores[sector] > 0 && scores[sector] >= threshold {
			additional = append(additional, sector)
		}
	}

	if forced, ok := model.ForcedSector(metadata); ok {
		if forced != primary {
			additional = prependSector(additional, primary)
		}
		primary = forced
	}

	return Result{Primary: primary, Additional: additional, Confidence: confidence}
}

// argmaxTwo returns the top-scoring sector plus the top two scores
// (first >= second), iterating model.AllSectors for deterministic tie
// breaking.
func argmaxTwo(scores map[model.Sector]float64) (model.Sector, float64, float64) {
	var best model.Sector
	first, second := -1.0, -1.0
	for _, sector := range model.AllSectors {
		s := scores[sector]
		if s > first {
			second = first
			first = s
			best = sector
		} else if s > second {
			second = s
		}
	}
	if first < 0 {
		first = 0
	}
	if second < 0 {
		second = 0
	}
	return best, first, second
}

func prependSector(sectors []model.Sector, s model.Sector) []model.Sector {
	for _, existing := range sectors {
		if existing == s {
			return sectors
		}
	}
	return append([]model.Sector{s}, sectors...)
}
