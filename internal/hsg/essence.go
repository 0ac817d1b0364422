package hsg

import (
	"regexp"
	"strings"
)

var (
	headerRe     = regexp.MustCompile(`^#+\s|^[A-Z][A-Z\s]+:`)
	titleColonRe = regexp.MustCompile(`^[A-Z][a-z]+:`)
	isoDateRe    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	monthDayRe   = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d+`)
	quantityRe   = regexp.MustCompile(`\$\d+|\d+\s*(miles|dollars|years|months|km)`)
	properNounRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+`)
	actionVerbRe = regexp.MustCompile(`(?i)\b(bought|purchased|serviced|visited|went|got|received|paid|earned|learned|discovered|found|saw|met|completed|finished|fixed|implemented|created|updated|added|removed|resolved)\b`)
	questionRe   = regexp.MustCompile(`(?i)\b(who|what|when|where|why|how)\b`)
	firstPersonRe = regexp.MustCompile(`\b(I|my|me)\b`)
)

// essence selects the most informative sentences from content until the
// byte budget is exhausted, keeping them in their original order. The first
// sentence is always kept when it fits; the rest are ranked by positional
// bonus, header/date/quantity markers, proper nouns, action verbs, question
// words, brevity and first-person voice.
func essence(content string, byteBudget int) string {
	if byteBudget <= 0 || len(content) <= byteBudget {
		return content
	}
	var sentences []string
	for _, s := range splitSentences(content) {
		if len(s) > 10 {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return truncateBytes(content, byteBudget)
	}

	type scored struct {
		idx   int
		text  string
		score int
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		ranked[i] = scored{idx: i, text: s, score: sentenceScore(s, i)}
	}

	order := append([]scored(nil), ranked...)
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if order[j].score > order[i].score {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	selected := make(map[int]bool, len(order))
	used := 0
	if first := ranked[0]; len(first.text) < byteBudget {
		selected[0] = true
		used = len(first.text)
	}
	for _, s := range order {
		if s.idx == 0 || selected[s.idx] {
			continue
		}
		if used+len(s.text)+2 > byteBudget {
			continue
		}
		selected[s.idx] = true
		used += len(s.text) + 2
	}
	if len(selected) == 0 {
		return truncateBytes(sentences[0], byteBudget)
	}

	var out []string
	for i, s := range sentences {
		if selected[i] {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

func sentenceScore(s string, idx int) int {
	score := 0
	if idx == 0 {
		score += 10
	}
	if idx == 1 {
		score += 5
	}
	if headerRe.MatchString(s) {
		score += 8
	}
	if titleColonRe.MatchString(s) {
		score += 6
	}
	if isoDateRe.MatchString(s) {
		score += 7
	}
	if monthDayRe.MatchString(s) {
		score += 5
	}
	if quantityRe.MatchString(s) {
		score += 4
	}
	if properNounRe.MatchString(s) {
		score += 3
	}
	if actionVerbRe.MatchString(s) {
		score += 4
	}
	if questionRe.MatchString(s) {
		score += 2
	}
	if len(s) < 80 {
		score += 2
	}
	if firstPersonRe.MatchString(s) {
		score++
	}
	return score
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
