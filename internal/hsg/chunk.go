package hsg

import "strings"

const (
	chunkTargetTokens = 768
	chunkOverlapRatio = 0.1
)

// chunkContent splits content into paragraph-then-sentence chunks of
// roughly chunkTargetTokens words with a 10% overlap.
// Chunks are computed for future ingestion extensions (per-chunk indexing)
// and do not feed the primary embedding computed in this pipeline.
func chunkContent(content string) []string {
	paragraphs := splitNonEmpty(content, "\n\n")
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))
	}

	for _, para := range paragraphs {
		sentences := splitSentences(para)
		for _, sent := range sentences {
			words := strings.Fields(sent)
			if currentWords+len(words) > chunkTargetTokens && currentWords > 0 {
				flush()
				overlap := int(float64(len(current)) * chunkOverlapRatio)
				if overlap > 0 && overlap < len(current) {
					current = append([]string(nil), current[len(current)-overlap:]...)
					currentWords = countWords(current)
				} else {
					current = nil
					currentWords = 0
				}
			}
			current = append(current, sent)
			currentWords += len(words)
		}
	}
	flush()
	return chunks
}

func splitNonEmpty(text, sep string) []string {
	raw := strings.Split(text, sep)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if t := strings.TrimSpace(r); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func countWords(sentences []string) int {
	n := 0
	for _, s := range sentences {
		n += len(strings.Fields(s))
	}
	return n
}
