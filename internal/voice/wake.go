package voice

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// wakeThreshold is the minimum Jaro-Winkler score for a transcript window to
// count as the activation phrase. Tolerant enough to survive typical STT
// mangling ("sibyl" heard as "civil") without firing on unrelated speech.
const wakeThreshold = 0.84

// WakeDetector checks whether a transcript addresses the assistant by its
// activation phrase. Detection is fuzzy, combining Double Metaphone phonetic
// codes with Jaro-Winkler similarity over sliding token windows, since
// transcripts rarely spell the phrase exactly.
//
// A detector is read-only after construction and safe for concurrent use.
type WakeDetector struct {
	tokens    []string
	codes     map[string]struct{}
	threshold float64
}

// NewWakeDetector creates a detector for phrase. An empty phrase yields a
// detector that matches everything (no wake word configured).
func NewWakeDetector(phrase string) *WakeDetector {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))
	d := &WakeDetector{
		tokens:    tokens,
		codes:     make(map[string]struct{}, len(tokens)*2),
		threshold: wakeThreshold,
	}
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			d.codes[p] = struct{}{}
		}
		if s != "" {
			d.codes[s] = struct{}{}
		}
	}
	return d
}

// Match reports whether transcript contains the activation phrase, exactly or
// near-phonetically, anywhere in the text.
func (d *WakeDetector) Match(transcript string) bool {
	if len(d.tokens) == 0 {
		return true
	}

	words := strings.Fields(strings.ToLower(transcript))
	if len(words) == 0 {
		return false
	}

	phrase := strings.Join(d.tokens, " ")
	n := len(d.tokens)

	for i := 0; i+n <= len(words); i++ {
		window := strings.Join(words[i:i+n], " ")
		if window == phrase {
			return true
		}
		if matchr.JaroWinkler(window, phrase, false) >= d.threshold {
			return true
		}
		// Phonetic pass: every phrase token must find a code overlap
		// somewhere in the window.
		if d.phoneticWindow(words[i : i+n]) {
			return true
		}
	}
	return false
}

func (d *WakeDetector) phoneticWindow(window []string) bool {
	matched := 0
	for _, w := range window {
		p, s := matchr.DoubleMetaphone(w)
		if _, ok := d.codes[p]; ok && p != "" {
			matched++
			continue
		}
		if _, ok := d.codes[s]; ok && s != "" {
			matched++
		}
	}
	return matched == len(window)
}
