// Package lexical implements the keyword retrieval store: phrase-prefix,
// fuzzy and keyword-term matching over indexed query phrases, with a
// popularity term derived from selection frequency.
package lexical

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/tokenize"
)

var (
	ErrEmptyText  = errors.New("lexical: document text is empty")
	ErrEmptyID    = errors.New("lexical: document id is empty")
	ErrNotFound   = errors.New("lexical: document not found")
	ErrEmptyQuery = errors.New("lexical: query is empty")
)

// Document is an indexable query phrase.
type Document struct {
	ID        string
	Text      string
	Keywords  []string
	Metadata  map[string]interface{}
	Frequency int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is a scored search hit.
type Result struct {
	Document Document
	Score    float64
}

// Weights configures the linear combination of the three query modes.
type Weights struct {
	PhrasePrefix float64
	Fuzzy        float64
	Term         float64
}

// DefaultWeights mirrors the boosts of the production search mapping.
func DefaultWeights() Weights {
	return Weights{PhrasePrefix: 3, Fuzzy: 1, Term: 5}
}

type entry struct {
	doc   Document
	terms []string
	kwSet map[string]struct{}
}

// Index is an in-process inverted store. All operations are safe for
// concurrent use.
type Index struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	weights Weights
	docs    map[string]*entry
	byText  map[string]string // normalized text -> id
}

// NewIndex creates an empty index.
func NewIndex(weights Weights, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		logger:  logger,
		weights: weights,
		docs:    make(map[string]*entry),
		byText:  make(map[string]string),
	}
}

// Upsert writes one document atomically. CreatedAt and Frequency of an
// existing document are preserved; UpdatedAt is refreshed.
func (ix *Index) Upsert(doc Document) error {
	if strings.TrimSpace(doc.Text) == "" {
		return ErrEmptyText
	}
	if doc.ID == "" {
		return ErrEmptyID
	}

	kwSet := make(map[string]struct{})
	for _, kw := range doc.Keywords {
		for _, term := range tokenize.Terms(kw) {
			kwSet[term] = struct{}{}
		}
	}

	now := time.Now()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if prev, ok := ix.docs[doc.ID]; ok {
		doc.CreatedAt = prev.doc.CreatedAt
		doc.Frequency = prev.doc.Frequency
		delete(ix.byText, tokenize.NormalizeText(prev.doc.Text))
	} else {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	ix.docs[doc.ID] = &entry{
		doc:   doc,
		terms: tokenize.Terms(doc.Text),
		kwSet: kwSet,
	}
	ix.byText[tokenize.NormalizeText(doc.Text)] = doc.ID
	return nil
}

// BulkError reports one failed item of a bulk write.
type BulkError struct {
	ID  string
	Err error
}

// BulkResult summarizes a bulk write; failures do not abort the batch.
type BulkResult struct {
	SuccessCount int
	ErrorCount   int
	Errors       []BulkError
}

// BulkUpsert writes each document independently and accumulates failures.
func (ix *Index) BulkUpsert(docs []Document) BulkResult {
	var res BulkResult
	for _, doc := range docs {
		if err := ix.Upsert(doc); err != nil {
			res.ErrorCount++
			res.Errors = append(res.Errors, BulkError{ID: doc.ID, Err: err})
			continue
		}
		res.SuccessCount++
	}
	return res
}

// Get returns a copy of the stored document.
func (ix *Index) Get(id string) (Document, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.docs[id]
	if !ok {
		return Document{}, false
	}
	return e.doc, true
}

// FindByText resolves a document by case-insensitive, whitespace-normalized
// text equality.
func (ix *Index) FindByText(text string) (Document, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.byText[tokenize.NormalizeText(text)]
	if !ok {
		return Document{}, false
	}
	return ix.docs[id].doc, true
}

// IncrementFrequency adds delta to the selection counter of a document.
func (ix *Index) IncrementFrequency(id string, delta int64) (int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.docs[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.doc.Frequency += delta
	if e.doc.Frequency < 0 {
		e.doc.Frequency = 0
	}
	e.doc.UpdatedAt = time.Now()
	return e.doc.Frequency, nil
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Search scores every document against the query and returns the top hits.
// Ties break by higher frequency, then lexicographically smaller id.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qTerms := tokenize.Terms(query)
	if len(qTerms) == 0 {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]Result, 0, limit)
	for _, e := range ix.docs {
		raw := ix.score(qTerms, e)
		if raw <= 0 {
			continue
		}
		results = append(results, Result{
			Document: e.doc,
			Score:    raw + math.Log1p(float64(e.doc.Frequency)),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Document.Frequency != results[j].Document.Frequency {
			return results[i].Document.Frequency > results[j].Document.Frequency
		}
		return results[i].Document.ID < results[j].Document.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (ix *Index) score(qTerms []string, e *entry) float64 {
	var total float64

	// Phrase prefix: text begins with the query tokens in order; the final
	// query token may be a prefix of the corresponding text token.
	if matched := phrasePrefixLen(e.terms, qTerms); matched > 0 {
		total += ix.weights.PhrasePrefix * float64(matched)
	}

	// Fuzzy match on text tokens; the tolerated distance scales with token
	// length, the way AUTO fuzziness does.
	for _, q := range qTerms {
		best := -1
		for _, t := range e.terms {
			d := tokenDistance(q, t)
			if d >= 0 && (best < 0 || d < best) {
				best = d
			}
		}
		if best >= 0 {
			total += ix.weights.Fuzzy * (1 - float64(best)/3)
		}
	}

	// Keyword terms: exact intersection, strongly boosted.
	for _, q := range qTerms {
		if _, ok := e.kwSet[q]; ok {
			total += ix.weights.Term
		}
	}

	return total
}

// phrasePrefixLen returns the number of matched query tokens, or 0 when the
// document does not begin with the query.
func phrasePrefixLen(docTerms, qTerms []string) int {
	if len(qTerms) > len(docTerms) {
		return 0
	}
	for i := 0; i < len(qTerms)-1; i++ {
		if docTerms[i] != qTerms[i] {
			return 0
		}
	}
	last := qTerms[len(qTerms)-1]
	if !strings.HasPrefix(docTerms[len(qTerms)-1], last) {
		return 0
	}
	return len(qTerms)
}

// tokenDistance returns the edit distance when it is within the tolerance
// for the query token's length, -1 otherwise. Short tokens must match
// exactly; this keeps single CJK characters from fuzzing into each other.
func tokenDistance(q, t string) int {
	d := levenshtein.ComputeDistance(q, t)
	if d <= maxEdits(q) {
		return d
	}
	return -1
}

func maxEdits(term string) int {
	switch n := utf8.RuneCountInString(term); {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}
