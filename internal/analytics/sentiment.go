package analytics

import "strings"

// polarityLexicon assigns each sentiment-bearing word a polarity in
// [-1, 1]. The overall score is the mean polarity of matched words, so it
// stays within [-1, 1] for any input.
var polarityLexicon = map[string]float64{
	// positive
	"good":        0.7,
	"great":       0.8,
	"excellent":   1.0,
	"amazing":     0.9,
	"awesome":     0.9,
	"fantastic":   0.9,
	"wonderful":   0.9,
	"perfect":     1.0,
	"best":        1.0,
	"better":      0.5,
	"love":        0.8,
	"loved":       0.8,
	"like":        0.4,
	"liked":       0.4,
	"enjoy":       0.6,
	"enjoyed":     0.6,
	"happy":       0.8,
	"glad":        0.6,
	"pleased":     0.6,
	"helpful":     0.6,
	"useful":      0.5,
	"nice":        0.6,
	"positive":    0.6,
	"success":     0.7,
	"successful":  0.7,
	"improved":    0.5,
	"improvement": 0.5,
	"easy":        0.4,
	"fast":        0.4,
	"clear":       0.4,
	"smooth":      0.5,
	"reliable":    0.6,
	"excited":     0.7,
	"interesting": 0.5,
	"impressive":  0.7,
	"works":       0.3,
	"working":     0.3,
	"resolved":    0.5,
	"fixed":       0.4,
	"thanks":      0.5,
	"thank":       0.5,

	// negative
	"bad":           -0.7,
	"terrible":      -1.0,
	"awful":         -1.0,
	"horrible":      -1.0,
	"worst":         -1.0,
	"worse":         -0.6,
	"poor":          -0.6,
	"hate":          -0.8,
	"hated":         -0.8,
	"dislike":       -0.5,
	"angry":         -0.7,
	"annoyed":       -0.5,
	"annoying":      -0.6,
	"frustrating":   -0.7,
	"frustrated":    -0.7,
	"disappointed":  -0.6,
	"disappointing": -0.6,
	"sad":           -0.5,
	"unhappy":       -0.6,
	"broken":        -0.6,
	"breaks":        -0.5,
	"fail":          -0.7,
	"failed":        -0.7,
	"failure":       -0.7,
	"error":         -0.4,
	"errors":        -0.4,
	"bug":           -0.4,
	"bugs":          -0.4,
	"crash":         -0.7,
	"crashed":       -0.7,
	"slow":          -0.4,
	"difficult":     -0.4,
	"hard":          -0.3,
	"confusing":     -0.5,
	"unclear":       -0.4,
	"wrong":         -0.5,
	"issue":         -0.3,
	"issues":        -0.3,
	"problematic":   -0.5,
	"useless":       -0.8,
	"negative":      -0.6,
	"unreliable":    -0.6,
}

// negators flip the polarity of the word that follows them.
var negators = map[string]struct{}{
	"not":     {},
	"no":      {},
	"never":   {},
	"neither": {},
	"nor":     {},
	"cannot":  {},
	"cant":    {},
	"dont":    {},
	"doesnt":  {},
	"didnt":   {},
	"isnt":    {},
	"wasnt":   {},
	"wont":    {},
}

// Sentiment computes a polarity score over text and its label.
// Label rule: "positive" above 0.1, "negative" below -0.1, otherwise
// "neutral". The boundary values themselves are neutral.
func (e *Engine) Sentiment(text string) (float64, string) {
	tokens := tokenize(text)

	var sum float64
	var matched int
	negate := false

	for _, tok := range tokens {
		if _, ok := negators[tok]; ok {
			negate = true
			continue
		}
		polarity, ok := polarityLexicon[tok]
		if !ok {
			negate = false
			continue
		}
		if negate {
			polarity = -polarity
			negate = false
		}
		sum += polarity
		matched++
	}

	if matched == 0 {
		return 0.0, "neutral"
	}

	score := sum / float64(matched)
	return score, sentimentLabel(score)
}

func sentimentLabel(score float64) string {
	switch {
	case score > positiveThreshold:
		return "positive"
	case score < negativeThreshold:
		return "negative"
	default:
		return "neutral"
	}
}

// tokenize lowercases text and splits it into words, dropping punctuation.
func tokenize(text string) []string {
	cleaned := normalizeText(text)
	return strings.Fields(cleaned)
}
