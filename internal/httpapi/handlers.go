package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/docstore"
	"github.com/chatbi-labs/queryassist/internal/oracle"
	"github.com/chatbi-labs/queryassist/internal/orchestrator"
	"github.com/chatbi-labs/queryassist/internal/suggest"
)

type suggestionRequest struct {
	Query   string                 `json:"query"`
	UserID  string                 `json:"user_id"`
	Limit   int                    `json:"limit"`
	Context map[string]interface{} `json:"context"`
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	s.serveSuggestions(w, r, "suggestions", s.svc.GetSuggestions)
}

func (s *Server) handleSimilarQueries(w http.ResponseWriter, r *http.Request) {
	s.serveSuggestions(w, r, "similar_queries", s.svc.GetSimilarQueries)
}

func (s *Server) handleRelatedQueries(w http.ResponseWriter, r *http.Request) {
	s.serveSuggestions(w, r, "related_queries", s.svc.GetRelatedQueries)
}

type suggestionOp func(ctx context.Context, req orchestrator.Request) ([]suggest.Suggestion, error)

func (s *Server) serveSuggestions(w http.ResponseWriter, r *http.Request, field string, op suggestionOp) {
	var req suggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := op(r.Context(), orchestrator.Request{
		Query:   req.Query,
		UserID:  req.UserID,
		Limit:   req.Limit,
		Context: oracle.Context(req.Context),
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	if out == nil {
		out = []suggest.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query": req.Query,
		field:   out,
		"total": len(out),
	})
}

type feedbackRequest struct {
	Query              string `json:"query"`
	SelectedSuggestion string `json:"selected_suggestion"`
	UserID             string `json:"user_id"`
	Timestamp          string `json:"timestamp"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ts := time.Now()
	if req.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			ts = parsed
		}
	}

	if err := s.svc.RecordFeedback(r.Context(), req.UserID, req.Query, req.SelectedSuggestion, ts); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "feedback recorded",
	})
}

type documentRequest struct {
	Text     string                 `json:"text"`
	DocID    string                 `json:"doc_id"`
	Keywords []string               `json:"keywords"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.svc.AddDocument(r.Context(), docstore.Item{
		ID:       req.DocID,
		Text:     req.Text,
		Keywords: req.Keywords,
		Metadata: req.Metadata,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		s.logger.Error("document indexing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to index document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "document indexed",
		"id":      id,
	})
}

type bulkDocumentsRequest struct {
	Documents []documentRequest `json:"documents"`
}

func (s *Server) handleBulkAddDocuments(w http.ResponseWriter, r *http.Request) {
	var req bulkDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents is required")
		return
	}

	items := make([]docstore.Item, len(req.Documents))
	for i, d := range req.Documents {
		items[i] = docstore.Item{ID: d.DocID, Text: d.Text, Keywords: d.Keywords, Metadata: d.Metadata}
	}
	res := s.svc.BulkAddDocuments(r.Context(), items)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success_count": res.SuccessCount,
		"error_count":   res.ErrorCount,
		"message":       "bulk indexing completed",
	})
}

func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service not ready")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
