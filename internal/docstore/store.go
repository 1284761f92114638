// Package docstore is the write facade over the lexical index, the vector
// index and the embedder. The lexical index is the system of record: a
// write that lands there succeeds even when the vector side fails, and the
// divergence is recorded for reconciliation.
package docstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/embeddings"
	"github.com/chatbi-labs/queryassist/internal/lexical"
	"github.com/chatbi-labs/queryassist/internal/metrics"
	"github.com/chatbi-labs/queryassist/internal/vectorindex"
)

var ErrEmptyText = errors.New("docstore: text is empty")

// Item is one document to ingest.
type Item struct {
	ID       string
	Text     string
	Keywords []string
	Metadata map[string]interface{}
}

// ItemError reports one failed item of a bulk ingest.
type ItemError struct {
	ID  string
	Err error
}

// BulkResult summarizes a bulk ingest.
type BulkResult struct {
	SuccessCount int
	ErrorCount   int
	Errors       []ItemError
}

// Config bounds the embed step.
type Config struct {
	EmbedTimeout time.Duration
}

// Store coordinates writes across the three backends.
type Store struct {
	lex    *lexical.Index
	vec    *vectorindex.Index
	emb    *embeddings.Service
	cfg    Config
	recon  *ReconciliationLog
	logger *zap.Logger
}

// NewStore builds the facade.
func NewStore(lex *lexical.Index, vec *vectorindex.Index, emb *embeddings.Service, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 500 * time.Millisecond
	}
	return &Store{
		lex:    lex,
		vec:    vec,
		emb:    emb,
		cfg:    cfg,
		recon:  NewReconciliationLog(256, logger),
		logger: logger,
	}
}

// Reconciliation exposes the pending divergence records.
func (s *Store) Reconciliation() *ReconciliationLog { return s.recon }

// DocumentID returns the stable id for a text: the md5 hex of its bytes.
func DocumentID(text string) string {
	h := md5.Sum([]byte(text))
	return hex.EncodeToString(h[:])
}

// Add ingests one document. A missing id is derived from the text, making
// repeated adds of the same text idempotent. The embedding is retried once;
// if it still fails the document is indexed lexically only and the miss is
// recorded for reconciliation.
func (s *Store) Add(ctx context.Context, item Item) (string, error) {
	if strings.TrimSpace(item.Text) == "" {
		return "", ErrEmptyText
	}
	if item.ID == "" {
		item.ID = DocumentID(item.Text)
	}

	vec, embErr := s.embedWithRetry(ctx, item.Text)

	if err := s.lex.Upsert(lexical.Document{
		ID:       item.ID,
		Text:     item.Text,
		Keywords: item.Keywords,
		Metadata: item.Metadata,
	}); err != nil {
		metrics.DocumentsIndexed.WithLabelValues("error").Inc()
		return "", fmt.Errorf("index document %s: %w", item.ID, err)
	}

	if embErr != nil {
		s.recon.Record(item.ID, "vector_missing", embErr)
		metrics.DocumentsIndexed.WithLabelValues("lexical_only").Inc()
		return item.ID, nil
	}
	if err := s.vec.Upsert(item.ID, vec); err != nil {
		s.recon.Record(item.ID, "vector_missing", err)
		metrics.DocumentsIndexed.WithLabelValues("lexical_only").Inc()
		return item.ID, nil
	}

	metrics.DocumentsIndexed.WithLabelValues("full").Inc()
	return item.ID, nil
}

// BulkAdd ingests documents independently: the batch never aborts, failures
// are reported per id. Embeddings for the whole batch are computed in one
// encoder call when possible.
func (s *Store) BulkAdd(ctx context.Context, items []Item) BulkResult {
	var res BulkResult

	valid := make([]int, 0, len(items))
	texts := make([]string, 0, len(items))
	for i := range items {
		if strings.TrimSpace(items[i].Text) == "" {
			res.ErrorCount++
			res.Errors = append(res.Errors, ItemError{ID: items[i].ID, Err: ErrEmptyText})
			continue
		}
		if items[i].ID == "" {
			items[i].ID = DocumentID(items[i].Text)
		}
		valid = append(valid, i)
		texts = append(texts, items[i].Text)
	}
	if len(valid) == 0 {
		return res
	}

	ectx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	vecs, embErr := s.emb.EmbedBatch(ectx, texts)
	cancel()
	if embErr != nil {
		s.logger.Warn("bulk embed failed, indexing lexically only",
			zap.Int("count", len(texts)), zap.Error(embErr))
	}

	for bi, i := range valid {
		item := items[i]
		if err := s.lex.Upsert(lexical.Document{
			ID:       item.ID,
			Text:     item.Text,
			Keywords: item.Keywords,
			Metadata: item.Metadata,
		}); err != nil {
			metrics.DocumentsIndexed.WithLabelValues("error").Inc()
			res.ErrorCount++
			res.Errors = append(res.Errors, ItemError{ID: item.ID, Err: err})
			continue
		}

		switch {
		case embErr != nil:
			s.recon.Record(item.ID, "vector_missing", embErr)
			metrics.DocumentsIndexed.WithLabelValues("lexical_only").Inc()
		default:
			if err := s.vec.Upsert(item.ID, vecs[bi]); err != nil {
				s.recon.Record(item.ID, "vector_missing", err)
				metrics.DocumentsIndexed.WithLabelValues("lexical_only").Inc()
			} else {
				metrics.DocumentsIndexed.WithLabelValues("full").Inc()
			}
		}
		res.SuccessCount++
	}
	return res
}

// IncrementFrequency bumps the selection counter of the document whose text
// matches selected. Returns false when no such document exists.
func (s *Store) IncrementFrequency(selected string, delta int64) bool {
	doc, ok := s.lex.FindByText(selected)
	if !ok {
		return false
	}
	if _, err := s.lex.IncrementFrequency(doc.ID, delta); err != nil {
		s.logger.Warn("frequency increment failed", zap.String("id", doc.ID), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()
	vec, err := s.emb.Embed(ectx, text)
	if err == nil {
		return vec, nil
	}
	// One retry covers transient encoder failures; anything persistent
	// leaves the document lexical-only until reconciliation.
	rctx, rcancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer rcancel()
	vec, rerr := s.emb.Embed(rctx, text)
	if rerr != nil {
		return nil, fmt.Errorf("embed after retry: %w", rerr)
	}
	return vec, nil
}
