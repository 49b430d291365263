package emotion

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Canonical labels produced by the image and audio classifiers.
const (
	Angry    = "Angry"
	Disgust  = "Disgust"
	Fear     = "Fear"
	Happy    = "Happy"
	Sad      = "Sad"
	Surprise = "Surprise"
	Neutral  = "Neutral"
)

// Sentinel labels.
const (
	// Unknown is the default for a field no observation has touched yet and the
	// result of a classifier response that carried no label.
	Unknown = "Unknown"

	// ParseError marks a classifier response that could not be decoded.
	ParseError = "Parse Error"
)

// Labels is the fixed seven-class label set in model output order.
var Labels = []string{Angry, Disgust, Fear, Happy, Sad, Surprise, Neutral}

// defaultFuzzyThreshold is the minimum Jaro-Winkler similarity for a
// free-form label to be snapped onto a canonical one.
const defaultFuzzyThreshold = 0.85

// IsCanonical reports whether label is one of [Labels] (exact match).
func IsCanonical(label string) bool {
	for _, l := range Labels {
		if l == label {
			return true
		}
	}
	return false
}

// LabelFromScores returns the label whose score is highest. scores must be in
// [Labels] order; any other length yields [Unknown].
func LabelFromScores(scores []float32) string {
	if len(scores) != len(Labels) {
		return Unknown
	}
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return Labels[best]
}

// Canonicalize maps free-form classifier output onto the canonical label set.
//
// Matching is case-insensitive. A word that is not an exact match is compared
// against each label with Jaro-Winkler similarity and Double Metaphone codes,
// so "sadness", "HAPPY." and "surprised" resolve to Sad, Happy and Surprise.
// Input that resembles no label is returned trimmed; the text path is open
// vocabulary. Empty input yields [Unknown].
func Canonicalize(label string) string {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(label), ".,;:!?\"'"))
	if s == "" {
		return Unknown
	}
	lower := strings.ToLower(s)
	for _, l := range Labels {
		if strings.ToLower(l) == lower {
			return l
		}
	}
	if strings.EqualFold(s, Unknown) {
		return Unknown
	}

	inCodes := metaphone(lower)
	best, bestScore := "", 0.0
	for _, l := range Labels {
		ll := strings.ToLower(l)
		score := matchr.JaroWinkler(lower, ll, false)
		if score < defaultFuzzyThreshold && !overlaps(inCodes, metaphone(ll)) {
			continue
		}
		if score > bestScore {
			best, bestScore = l, score
		}
	}
	if best != "" && bestScore >= 0.7 {
		return best
	}
	return s
}

// Capitalize upper-cases the first rune of s and lower-cases the rest, the
// form the recommendation service expects for moods.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[n:])
}

func metaphone(word string) map[string]struct{} {
	p, s := matchr.DoubleMetaphone(word)
	codes := make(map[string]struct{}, 2)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
