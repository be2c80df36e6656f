package whisper

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Matcher finds ad phrases in a transcript. Transcripts are noisy, so a
// phrase matches a run of words that sounds alike (Double Metaphone) and is
// spelled close enough (Jaro-Winkler).
type Matcher struct {
	phrases   []phrase
	threshold float64
}

type phrase struct {
	text   string
	tokens []string
	codes  map[string]struct{}
}

// NewMatcher builds a matcher for the given phrases. Empty phrases are
// ignored.
func NewMatcher(phrases []string, threshold float64) *Matcher {
	m := &Matcher{threshold: threshold}
	for _, p := range phrases {
		tokens := tokenize(p)
		if len(tokens) == 0 {
			continue
		}
		m.phrases = append(m.phrases, phrase{
			text:   strings.Join(tokens, " "),
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
	}
	return m
}

// Match reports the best scoring phrase found in transcript.
func (m *Matcher) Match(transcript string) (string, float64, bool) {
	words := tokenize(transcript)
	bestPhrase, bestScore := "", 0.0

	for _, p := range m.phrases {
		n := len(p.tokens)
		if n > len(words) {
			continue
		}
		for i := 0; i+n <= len(words); i++ {
			window := words[i : i+n]
			if len(p.codes) > 0 && !codesOverlap(codesForTokens(window), p.codes) {
				continue
			}
			score := windowScore(window, p.tokens)
			if score >= m.threshold && score > bestScore {
				bestPhrase, bestScore = p.text, score
			}
		}
	}
	return bestPhrase, bestScore, bestPhrase != ""
}

// windowScore compares the spaced and the concatenated forms and keeps the
// higher score.
func windowScore(window, tokens []string) float64 {
	score := matchr.JaroWinkler(strings.Join(window, " "), strings.Join(tokens, " "), false)
	if len(tokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(window, ""), strings.Join(tokens, ""), false); s > score {
			score = s
		}
	}
	return score
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// codesForTokens returns every non-empty Double Metaphone code of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
