package engine

import "strings"

// splitText cuts text into sub-chunks of at most limit runes, preferring to
// break after sentence punctuation. Sentences longer than the limit are
// hard-split. The concatenation of the returned chunks, ignoring whitespace
// trimming at the seams, covers the whole input in order.
func splitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	var current []rune
	for _, sentence := range splitSentences(text) {
		runes := []rune(sentence)
		if len(current)+len(runes) > limit && len(current) > 0 {
			chunks = append(chunks, strings.TrimSpace(string(current)))
			current = current[:0]
		}
		for len(runes) > limit {
			chunks = append(chunks, strings.TrimSpace(string(runes[:limit])))
			runes = runes[limit:]
		}
		current = append(current, runes...)
	}
	if trimmed := strings.TrimSpace(string(current)); trimmed != "" {
		chunks = append(chunks, trimmed)
	}
	return chunks
}

// splitSentences splits on sentence-final punctuation and newlines, keeping
// the punctuation with the preceding sentence.
func splitSentences(text string) []string {
	var out []string
	var current []rune
	for _, r := range text {
		current = append(current, r)
		switch r {
		case '.', '!', '?', ';', '\n', '。', '！', '？':
			if s := string(current); strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
			current = current[:0]
		}
	}
	if s := string(current); strings.TrimSpace(s) != "" {
		out = append(out, s)
	}
	return out
}
