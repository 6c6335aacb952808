package analytics

import (
	"sort"
	"strings"
	"unicode"
)

// maxVocabulary caps the number of distinct terms considered per document.
const maxVocabulary = 1000

// englishStopWords is the exclusion list applied before n-gram construction.
var englishStopWords = map[string]struct{}{}

func init() {
	words := []string{
		"a", "about", "above", "after", "again", "against", "all", "am", "an",
		"and", "any", "are", "as", "at", "be", "because", "been", "before",
		"being", "below", "between", "both", "but", "by", "could", "did", "do",
		"does", "doing", "down", "during", "each", "few", "for", "from",
		"further", "had", "has", "have", "having", "he", "her", "here", "hers",
		"herself", "him", "himself", "his", "how", "i", "if", "in", "into",
		"is", "it", "its", "itself", "just", "me", "more", "most", "my",
		"myself", "no", "nor", "not", "now", "of", "off", "on", "once", "only",
		"or", "other", "our", "ours", "ourselves", "out", "over", "own",
		"same", "she", "should", "so", "some", "such", "than", "that", "the",
		"their", "theirs", "them", "themselves", "then", "there", "these",
		"they", "this", "those", "through", "to", "too", "under", "until",
		"up", "very", "was", "we", "were", "what", "when", "where", "which",
		"while", "who", "whom", "why", "will", "with", "would", "you", "your",
		"yours", "yourself", "yourselves",
	}
	for _, w := range words {
		englishStopWords[w] = struct{}{}
	}
}

// normalizeText lowercases text and strips everything except word
// characters and whitespace.
func normalizeText(text string) string {
	lowered := strings.ToLower(text)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, lowered)
}

type termWeight struct {
	term   string
	weight float64
}

// Keywords extracts up to max terms ranked by importance weight.
//
// The weighting is computed over the single document alone: with no corpus
// to contrast against, the inverse-document-frequency component is constant
// and ranking degenerates to raw term frequency. That is an inherent
// property of per-record scoring, kept deliberately.
func (e *Engine) Keywords(text string, max int) []string {
	if max <= 0 {
		return []string{}
	}

	terms := documentTerms(text)
	if len(terms) == 0 {
		return []string{}
	}

	counts := make(map[string]int, len(terms))
	for _, t := range terms {
		counts[t]++
	}

	weights := make([]termWeight, 0, len(counts))
	for term, count := range counts {
		weights = append(weights, termWeight{term: term, weight: float64(count)})
	}

	// Highest weight first; alphabetical within ties for determinism.
	sort.Slice(weights, func(i, j int) bool {
		if weights[i].weight != weights[j].weight {
			return weights[i].weight > weights[j].weight
		}
		return weights[i].term < weights[j].term
	})

	// Vocabulary cap: only the most frequent terms are eligible at all.
	if len(weights) > maxVocabulary {
		weights = weights[:maxVocabulary]
	}

	n := max
	if n > len(weights) {
		n = len(weights)
	}

	keywords := make([]string, 0, n)
	for _, tw := range weights[:n] {
		if tw.weight <= 0 {
			break
		}
		keywords = append(keywords, tw.term)
	}
	return keywords
}

// documentTerms produces the 1- and 2-gram terms of a document after
// normalization and stop-word removal. Bigrams join tokens adjacent in the
// stop-word-filtered sequence. Single-character tokens are dropped.
func documentTerms(text string) []string {
	raw := strings.Fields(normalizeText(text))

	filtered := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		filtered = append(filtered, tok)
	}

	terms := make([]string, 0, len(filtered)*2)
	for i, tok := range filtered {
		terms = append(terms, tok)
		if i+1 < len(filtered) {
			terms = append(terms, tok+" "+filtered[i+1])
		}
	}
	return terms
}

// topicCategory pairs a topic label with the keywords that trigger it.
type topicCategory struct {
	name     string
	triggers []string
}

// topicCategories are evaluated, and reported, in declaration order.
var topicCategories = []topicCategory{
	{"technology", []string{"api", "software", "code", "development", "tech", "system"}},
	{"business", []string{"business", "company", "revenue", "profit", "market", "sales"}},
	{"customer_service", []string{"customer", "support", "help", "issue", "problem", "service"}},
	{"product", []string{"product", "feature", "update", "version", "release", "improvement"}},
	{"general", []string{"discussion", "meeting", "call", "conversation", "chat", "talk"}},
}

// Topics assigns fixed categories by matching trigger keywords against the
// document's top 20 keywords, capped at NumTopics.
func (e *Engine) Topics(text string) []string {
	keywords := e.Keywords(text, 20)
	keywordSet := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		keywordSet[k] = struct{}{}
	}

	topics := []string{}
	for _, cat := range topicCategories {
		for _, trigger := range cat.triggers {
			if _, ok := keywordSet[trigger]; ok {
				topics = append(topics, cat.name)
				break
			}
		}
	}

	if limit := e.numTopics(); len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}
