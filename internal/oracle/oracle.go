// Package oracle wraps the optional LLM capability set: query expansion,
// related-query generation, prefix-completion ranking and query rewriting.
// The engine is fully functional without it; every failure, timeout or
// unparseable response degrades to an empty result at the call site.
package oracle

import "context"

// Context is the opaque request context bag. Recognized keys are "domain"
// and "user_history"; unknown keys are ignored.
type Context map[string]interface{}

// Domain returns the domain hint if present.
func (c Context) Domain() string {
	if c == nil {
		return ""
	}
	s, _ := c["domain"].(string)
	return s
}

// UserHistory returns recent queries passed by the caller, if any.
func (c Context) UserHistory() []string {
	if c == nil {
		return nil
	}
	switch v := c["user_history"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// RankedCompletion is one scored tail completion.
type RankedCompletion struct {
	Text  string
	Score float64 // in [0, 1]
}

// Client is the oracle capability set.
type Client interface {
	IsAvailable() bool
	// ExpandQuery returns up to n semantic paraphrases of q.
	ExpandQuery(ctx context.Context, q string, n int) ([]string, error)
	// GenerateRelated returns up to n queries a user might ask next.
	GenerateRelated(ctx context.Context, q string, octx Context, n int) ([]string, error)
	// RankPrefixCompletions orders candidate tail completions for the given
	// stable prefix, best first.
	RankPrefixCompletions(ctx context.Context, prefix, tail string, candidates []string, octx Context) ([]RankedCompletion, error)
	// RewriteQuery normalizes a colloquial query into analytics phrasing.
	RewriteQuery(ctx context.Context, q string) (string, error)
}

// Disabled is the no-op client used when no oracle is configured.
type Disabled struct{}

func (Disabled) IsAvailable() bool { return false }

func (Disabled) ExpandQuery(context.Context, string, int) ([]string, error) { return nil, nil }

func (Disabled) GenerateRelated(context.Context, string, Context, int) ([]string, error) {
	return nil, nil
}

func (Disabled) RankPrefixCompletions(context.Context, string, string, []string, Context) ([]RankedCompletion, error) {
	return nil, nil
}

func (Disabled) RewriteQuery(_ context.Context, q string) (string, error) { return q, nil }
