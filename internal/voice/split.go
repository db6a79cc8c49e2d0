package voice

import (
	"strings"
	"unicode"
)

// DefaultSegmentLen is the text length limit used when a TTS backend imposes
// a hard input limit but does not advertise one.
const DefaultSegmentLen = 550

// SplitText splits answer text into chunks of at most limit runes for
// length-limited TTS backends. A limit of zero returns the whole text as a
// single chunk.
//
// Splits land on sentence boundaries where possible, falling back to word
// boundaries, and only then to a hard cut mid-word. Chunk order matches text
// order, and concatenating the chunks (with the separating whitespace
// normalised) reproduces the text's words in order.
func SplitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, sentence := range splitSentences(text) {
		runes := []rune(sentence)
		if curLen > 0 && curLen+1+len(runes) > limit {
			flush()
		}
		if len(runes) <= limit {
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(sentence)
			curLen += len(runes)
			continue
		}
		// Sentence alone exceeds the limit: pack words, hard-cut overlong ones.
		for _, word := range strings.Fields(sentence) {
			wr := []rune(word)
			for len(wr) > limit {
				flush()
				chunks = append(chunks, string(wr[:limit]))
				wr = wr[limit:]
			}
			if curLen > 0 && curLen+1+len(wr) > limit {
				flush()
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(string(wr))
			curLen += len(wr)
		}
	}
	flush()
	return chunks
}

// splitSentences splits text at sentence-ending punctuation and newlines,
// keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		boundary := false
		switch r {
		case '\n':
			boundary = true
		case '.', '!', '?':
			// Only a boundary when followed by whitespace or end of text,
			// so "3.5" stays intact.
			boundary = i+1 >= len(runes) || unicode.IsSpace(runes[i+1])
		}
		if boundary {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}
