// Package reranker provides a local reference implementation of the
// rerank capability, re-scoring candidate texts by lexical overlap with
// the turn's query. Production deployments swap in a cross-encoder
// service behind the same interface.
package reranker

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
)

// Lexical implements capabilities.Reranker with query-term overlap
// scoring. It abstains (returns an empty result) when the query carries
// no usable terms, leaving the caller's original ordering intact.
type Lexical struct{}

// NewLexical creates a Lexical reranker.
func NewLexical() *Lexical {
	return &Lexical{}
}

// Rerank implements capabilities.Reranker.
func (l *Lexical) Rerank(ctx context.Context, query string, documents []string, topK int) ([]capabilities.RankedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(documents) == 0 {
		return nil, nil
	}
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	ranked := make([]capabilities.RankedDocument, len(documents))
	for i, doc := range documents {
		ranked[i] = capabilities.RankedDocument{
			Index: i,
			Score: overlap(queryTerms, terms(doc)),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked[:topK], nil
}

// terms lowercases and splits text into deduplicated alphanumeric tokens,
// dropping short tokens that carry no signal.
func terms(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			set[f] = true
		}
	}
	return set
}

// overlap is the fraction of query terms present in the document.
func overlap(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matches := 0
	for term := range query {
		if doc[term] {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}
