// Package behavior persists user interaction signals in Redis: selection
// history, per-query preferences, global popularity and pairwise sequence
// edges. Reads feed the ranker and the related-query union; writes come
// from the feedback endpoint. No operation here fails a caller: errors are
// logged and swallowed, the engine degrades to unpersonalized behavior.
package behavior

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/circuitbreaker"
	"github.com/chatbi-labs/queryassist/internal/metrics"
)

// Config controls retention and read bounds.
type Config struct {
	HistoryCap     int           // max entries kept in a user's history list
	PreferenceTTL  time.Duration // TTL on last-selection keys
	TopPreferences int           // max entries returned by preference reads
	SequenceLimit  int           // max edges returned per direction
	ScanCount      int64         // COUNT hint for SCAN when resolving reverse edges
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCap:     100,
		PreferenceTTL:  30 * 24 * time.Hour,
		TopPreferences: 20,
		SequenceLimit:  10,
		ScanCount:      100,
	}
}

// HistoryEntry is one recorded selection, stored as JSON in the history list.
type HistoryEntry struct {
	Query     string    `json:"query"`
	Selected  string    `json:"selected"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is a scored member of a preference or sequence multiset.
type Entry struct {
	Text  string
	Score float64
}

// Sequences holds the outgoing and incoming edges of a query.
type Sequences struct {
	Next     []Entry
	Previous []Entry
}

// Store is the Redis-backed behavior store.
type Store struct {
	rdb    *circuitbreaker.RedisWrapper
	cfg    Config
	logger *zap.Logger
}

// NewStore creates a behavior store over the wrapped client.
func NewStore(rdb *circuitbreaker.RedisWrapper, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 100
	}
	if cfg.TopPreferences <= 0 {
		cfg.TopPreferences = 20
	}
	if cfg.SequenceLimit <= 0 {
		cfg.SequenceLimit = 10
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	return &Store{rdb: rdb, cfg: cfg, logger: logger}
}

func historyKey(user string) string         { return "user:" + user + ":history" }
func prefKey(user, query string) string     { return "user:" + user + ":pref:" + query }
func freqKey(user string) string            { return "user:" + user + ":freq" }
func globalKey(query string) string         { return "global:query:" + query }
func sequenceKey(query string) string       { return "sequence:" + query }
func userSequenceKey(user, q string) string { return "user:" + user + ":sequence:" + q }
func userSequencePrefix(user string) string { return "user:" + user + ":sequence:" }

// RecordSelection persists one selection. The previous history head is read
// before the push so the sequence edge prev -> query can be written. Partial
// failure leaves whatever succeeded in place; nothing is rolled back.
func (s *Store) RecordSelection(ctx context.Context, user, query, selected string, ts time.Time) {
	if user == "" || query == "" {
		return
	}
	if selected == "" {
		selected = query
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	prevQuery := ""
	if prev, err := s.rdb.LRange(ctx, historyKey(user), 0, 0).Result(); err != nil {
		s.swallow("history_read", user, err)
	} else if len(prev) > 0 {
		var e HistoryEntry
		if json.Unmarshal([]byte(prev[0]), &e) == nil {
			prevQuery = e.Query
		}
	}

	raw, err := json.Marshal(HistoryEntry{Query: query, Selected: selected, Timestamp: ts})
	if err == nil {
		if err := s.rdb.LPush(ctx, historyKey(user), raw).Err(); err != nil {
			s.swallow("history_push", user, err)
		} else if err := s.rdb.LTrim(ctx, historyKey(user), 0, int64(s.cfg.HistoryCap-1)).Err(); err != nil {
			s.swallow("history_trim", user, err)
		}
	}

	if err := s.rdb.Set(ctx, prefKey(user, query), selected, s.cfg.PreferenceTTL).Err(); err != nil {
		s.swallow("pref_set", user, err)
	}
	if err := s.rdb.ZIncrBy(ctx, freqKey(user), 1, selected).Err(); err != nil {
		s.swallow("freq_incr", user, err)
	}
	if err := s.rdb.ZIncrBy(ctx, globalKey(query), 1, selected).Err(); err != nil {
		s.swallow("global_incr", user, err)
	}

	if prevQuery != "" && prevQuery != query {
		if err := s.rdb.ZIncrBy(ctx, sequenceKey(prevQuery), 1, query).Err(); err != nil {
			s.swallow("sequence_incr", user, err)
		}
		if err := s.rdb.ZIncrBy(ctx, userSequenceKey(user, prevQuery), 1, query).Err(); err != nil {
			s.swallow("user_sequence_incr", user, err)
		}
	}

	metrics.BehaviorSelections.Inc()
}

// GetUserPreferences returns the user's cumulative selection scores, top-M,
// score descending with text ascending as tiebreak. Empty on any error.
func (s *Store) GetUserPreferences(ctx context.Context, user string) []Entry {
	if user == "" {
		return nil
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, freqKey(user), 0, int64(s.cfg.TopPreferences-1)).Result()
	if err != nil {
		s.swallow("preferences_read", user, err)
		return nil
	}
	return sortedEntries(zs)
}

// GetGlobalPreferences returns what all users selected for this exact query.
func (s *Store) GetGlobalPreferences(ctx context.Context, query string) []Entry {
	if query == "" {
		return nil
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, globalKey(query), 0, int64(s.cfg.TopPreferences-1)).Result()
	if err != nil {
		s.swallow("global_read", "", err)
		return nil
	}
	return sortedEntries(zs)
}

// GetLastSelection returns the last text the user picked for this query.
func (s *Store) GetLastSelection(ctx context.Context, user, query string) (string, bool) {
	if user == "" || query == "" {
		return "", false
	}
	v, err := s.rdb.Get(ctx, prefKey(user, query)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		s.swallow("last_selection_read", user, err)
		return "", false
	}
	return v, true
}

// GetRecentHistory returns up to limit most recent history entries.
func (s *Store) GetRecentHistory(ctx context.Context, user string, limit int) []HistoryEntry {
	if user == "" {
		return nil
	}
	if limit <= 0 || limit > s.cfg.HistoryCap {
		limit = s.cfg.HistoryCap
	}
	raws, err := s.rdb.LRange(ctx, historyKey(user), 0, int64(limit-1)).Result()
	if err != nil {
		s.swallow("history_read", user, err)
		return nil
	}
	out := make([]HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("skipping malformed history entry", zap.String("user", user), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetSequences returns the queries observed after and before the given one.
// Next is a direct zset lookup; previous walks sequence keys with SCAN and
// probes each for an edge into query. User edges are merged over global ones
// keeping the higher weight.
func (s *Store) GetSequences(ctx context.Context, query, user string) Sequences {
	if query == "" {
		return Sequences{}
	}

	next := s.readEdges(ctx, sequenceKey(query))
	if user != "" {
		next = mergeMax(next, s.readEdges(ctx, userSequenceKey(user, query)))
	}
	sortEntries(next)
	if len(next) > s.cfg.SequenceLimit {
		next = next[:s.cfg.SequenceLimit]
	}

	prev := s.reverseEdges(ctx, "sequence:", "sequence:", query)
	if user != "" {
		p := userSequencePrefix(user)
		prev = mergeMax(prev, s.reverseEdges(ctx, p, p, query))
	}
	sortEntries(prev)
	if len(prev) > s.cfg.SequenceLimit {
		prev = prev[:s.cfg.SequenceLimit]
	}

	return Sequences{Next: next, Previous: prev}
}

func (s *Store) readEdges(ctx context.Context, key string) []Entry {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, int64(s.cfg.SequenceLimit-1)).Result()
	if err != nil {
		s.swallow("sequence_read", "", err)
		return nil
	}
	return sortedEntries(zs)
}

// reverseEdges finds sources q' with an edge q' -> target by scanning keys
// under prefix and probing each with ZSCORE.
func (s *Store) reverseEdges(ctx context.Context, match, prefix, target string) []Entry {
	var out []Entry
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match+"*", s.cfg.ScanCount).Result()
		if err != nil {
			s.swallow("sequence_scan", "", err)
			return out
		}
		for _, key := range keys {
			source := strings.TrimPrefix(key, prefix)
			if source == target || source == key {
				continue
			}
			score, err := s.rdb.ZScore(ctx, key, target).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				s.swallow("sequence_probe", "", err)
				continue
			}
			out = append(out, Entry{Text: source, Score: score})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out
}

// Ping reports Redis connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) swallow(op, user string, err error) {
	metrics.BehaviorWriteFailures.Inc()
	metrics.SwallowedErrors.WithLabelValues("behavior").Inc()
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if user != "" {
		fields = append(fields, zap.String("user", user))
	}
	s.logger.Warn("behavior store operation failed", fields...)
}

func sortedEntries(zs []redis.Z) []Entry {
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		text, _ := z.Member.(string)
		if text == "" {
			text = fmt.Sprint(z.Member)
		}
		out = append(out, Entry{Text: text, Score: z.Score})
	}
	sortEntries(out)
	return out
}

// sortEntries orders by score descending, text ascending. Redis breaks zset
// ties by reversed lexicographic order; this re-sort pins the contract.
func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Score != es[j].Score {
			return es[i].Score > es[j].Score
		}
		return es[i].Text < es[j].Text
	})
}

func mergeMax(a, b []Entry) []Entry {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]int, len(a))
	for i, e := range a {
		seen[e.Text] = i
	}
	for _, e := range b {
		if i, ok := seen[e.Text]; ok {
			if e.Score > a[i].Score {
				a[i].Score = e.Score
			}
			continue
		}
		a = append(a, e)
	}
	return a
}
