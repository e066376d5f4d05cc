package reply

import "strings"

// Intent is the resolved meaning of a broker's free-text reply.
type Intent string

const (
	IntentAccepted Intent = "accepted"
	IntentRejected Intent = "rejected"
	IntentUnclear  Intent = "unclear"
)

// Result carries the classified intent and how many keyword hits supported
// it. Confidence 0 always means unclear.
type Result struct {
	Intent     Intent
	Confidence int
}

// Classifier maps a raw inbound reply to an intent. Implementations must be
// safe for concurrent use.
type Classifier interface {
	Classify(text string) Result
}

// exactMatchConfidence is reported when the whole reply equals a keyword.
const exactMatchConfidence = 100

// KeywordClassifier is a conservative bag-of-words classifier: an exact match
// against either word set wins immediately, otherwise keyword occurrences are
// counted and ties resolve to unclear. It deliberately prefers unclear over
// guessing.
type KeywordClassifier struct {
	accept []string
	reject []string
}

// NewKeywordClassifier returns a classifier loaded with the default
// Portuguese accept/reject vocabulary.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		accept: []string{
			"sim", "aceito", "aceitar", "quero", "confirmo", "confirmar",
			"pode ser", "claro", "ok", "vamos", "topo", "fechado", "positivo",
		},
		reject: []string{
			"nao", "não", "recuso", "recusar", "ocupado", "ocupada",
			"nao posso", "não posso", "negativo", "passo", "nao quero",
			"não quero", "agora nao", "agora não",
		},
	}
}

// WithVocabulary replaces both word sets, for tenants with a different reply
// language.
func (c *KeywordClassifier) WithVocabulary(accept, reject []string) *KeywordClassifier {
	c.accept = accept
	c.reject = reject
	return c
}

func (c *KeywordClassifier) Classify(text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Result{Intent: IntentUnclear}
	}

	for _, w := range c.accept {
		if normalized == w {
			return Result{Intent: IntentAccepted, Confidence: exactMatchConfidence}
		}
	}
	for _, w := range c.reject {
		if normalized == w {
			return Result{Intent: IntentRejected, Confidence: exactMatchConfidence}
		}
	}

	acceptHits := countHits(normalized, c.accept)
	rejectHits := countHits(normalized, c.reject)

	switch {
	case acceptHits > rejectHits:
		return Result{Intent: IntentAccepted, Confidence: acceptHits}
	case rejectHits > acceptHits:
		return Result{Intent: IntentRejected, Confidence: rejectHits}
	default:
		return Result{Intent: IntentUnclear}
	}
}

// countHits counts whole-word occurrences. Multi-word phrases are matched as
// substrings so "nao posso" still scores inside a longer sentence.
func countHits(text string, words []string) int {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ',', '.', '!', '?', ';', ':':
			return true
		}
		return false
	})

	hits := 0
	for _, w := range words {
		if strings.Contains(w, " ") {
			hits += strings.Count(text, w)
			continue
		}
		for _, f := range fields {
			if f == w {
				hits++
			}
		}
	}
	return hits
}
