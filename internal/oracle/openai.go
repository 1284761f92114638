package oracle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/metrics"
)

// Config for the OpenAI-backed client.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIClient implements Client over the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAIClient creates the client; returns Disabled semantics via
// IsAvailable when the key is missing.
func NewOpenAIClient(cfg Config, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 150
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	var client *openai.Client
	if cfg.APIKey != "" {
		client = openai.NewClient(cfg.APIKey)
	}
	return &OpenAIClient{client: client, cfg: cfg, logger: logger}
}

func (o *OpenAIClient) IsAvailable() bool { return o.client != nil }

// ExpandQuery asks for semantic paraphrases, one per line.
func (o *OpenAIClient) ExpandQuery(ctx context.Context, q string, n int) ([]string, error) {
	if !o.IsAvailable() {
		return nil, nil
	}
	if n <= 0 {
		n = 3
	}
	prompt := fmt.Sprintf("Given the business intelligence query: '%s'\n\n"+
		"Generate %d semantically related queries that a user might also search for. "+
		"Return only the queries, one per line, without numbering or explanation.", q, n)

	out, err := o.chat(ctx, "expand",
		"You are a query expansion assistant for a business intelligence system. Generate semantically related queries.",
		prompt, o.cfg.Temperature, o.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	lines := parseLines(out)
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines, nil
}

// GenerateRelated asks for logical follow-up queries.
func (o *OpenAIClient) GenerateRelated(ctx context.Context, q string, octx Context, n int) ([]string, error) {
	if !o.IsAvailable() {
		return nil, nil
	}
	if n <= 0 {
		n = 5
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Given the business intelligence query: '%s'\n\n", q)
	if d := octx.Domain(); d != "" {
		fmt.Fprintf(&b, "Domain: %s\n", d)
	}
	if h := octx.UserHistory(); len(h) > 0 {
		if len(h) > 3 {
			h = h[:3]
		}
		fmt.Fprintf(&b, "Recent queries: %s\n", strings.Join(h, ", "))
	}
	fmt.Fprintf(&b, "\nGenerate %d related follow-up queries that would naturally come after this query. "+
		"Focus on logical next steps in analysis or exploration. "+
		"Return only the queries, one per line, without numbering or explanation.", n)

	out, err := o.chat(ctx, "related",
		"You are a business intelligence query assistant. Generate relevant follow-up queries.",
		b.String(), o.cfg.Temperature, o.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	lines := parseLines(out)
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines, nil
}

// RankPrefixCompletions orders candidate tails for the stable prefix. The
// model returns "completion|score" lines; unscored lines get decreasing
// defaults.
func (o *OpenAIClient) RankPrefixCompletions(ctx context.Context, prefix, tail string, candidates []string, octx Context) ([]RankedCompletion, error) {
	if !o.IsAvailable() || len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A user is typing a business intelligence query. The stable part is '%s' "+
		"and the incomplete last term is '%s'.\n\nCandidate completions for the last term:\n", prefix, tail)
	for _, c := range candidates {
		fmt.Fprintf(&b, "%s\n", c)
	}
	if d := octx.Domain(); d != "" {
		fmt.Fprintf(&b, "\nDomain: %s\n", d)
	}
	b.WriteString("\nRank the candidates by how likely each completes the term in this context. " +
		"Return one candidate per line as 'completion|score' with score between 0 and 1, best first. " +
		"No numbering or explanation.")

	out, err := o.chat(ctx, "rank_prefix",
		"You are an autocomplete ranking assistant. Rank term completions for a partially typed query.",
		b.String(), 0.3, o.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		allowed[c] = struct{}{}
	}

	var ranked []RankedCompletion
	for i, line := range parseLines(out) {
		text := line
		score := 0.9 - 0.05*float64(i)
		if idx := strings.LastIndex(line, "|"); idx >= 0 {
			text = strings.TrimSpace(line[:idx])
			if s, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64); err == nil && s >= 0 && s <= 1 {
				score = s
			}
		}
		if _, ok := allowed[text]; !ok {
			continue
		}
		if score < 0 {
			score = 0
		}
		ranked = append(ranked, RankedCompletion{Text: text, Score: score})
	}
	return ranked, nil
}

// RewriteQuery normalizes a colloquial query. Uses a low temperature so
// rewrites stay stable across calls.
func (o *OpenAIClient) RewriteQuery(ctx context.Context, q string) (string, error) {
	if !o.IsAvailable() {
		return q, nil
	}
	prompt := fmt.Sprintf("Rewrite this business intelligence query to make it more specific and clear: '%s'\n\n"+
		"Return only the rewritten query, without explanation.", q)

	out, err := o.chat(ctx, "rewrite",
		"You are a query optimization assistant. Rewrite queries to be more effective for search.",
		prompt, 0.3, 100)
	if err != nil {
		return "", err
	}
	lines := parseLines(out)
	if len(lines) == 0 {
		return "", fmt.Errorf("oracle: empty rewrite for %q", q)
	}
	return lines[0], nil
}

func (o *OpenAIClient) chat(ctx context.Context, op, system, user string, temperature float32, maxTokens int) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		metrics.OracleCalls.WithLabelValues(op, "error").Inc()
		o.logger.Warn("oracle call failed", zap.String("op", op), zap.Error(err))
		return "", err
	}
	if len(resp.Choices) == 0 {
		metrics.OracleCalls.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("oracle: no choices returned")
	}
	metrics.OracleCalls.WithLabelValues(op, "ok").Inc()
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// parseLines splits a model response into cleaned items: one per line, or
// comma-separated when the response is a single line. Numbering, bullets and
// surrounding quotes are stripped.
func parseLines(s string) []string {
	lines := splitNonEmpty(s, "\n")
	if len(lines) == 1 {
		lines = splitNonEmpty(lines[0], ",")
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimLeft(line, "0123456789")
		line = strings.TrimLeft(line, ".)-*•· \t")
		line = strings.Trim(line, `"'`)
		line = strings.TrimSpace(line)
		if len([]rune(line)) > 1 {
			out = append(out, line)
		}
	}
	return out
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
