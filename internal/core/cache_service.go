package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/semcache/semcache/internal/logger"
	"github.com/semcache/semcache/internal/store"
	"github.com/semcache/semcache/internal/text"
)

// Validation errors, terminal for the caller.
var (
	ErrEmptyQuery    = errors.New("query must not be empty")
	ErrEmptyResponse = errors.New("response must not be empty")
)

const (
	DefaultResultLimit   = 5
	DefaultMinSimilarity = 0.7
)

type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchSimilar MatchType = "similar"
)

// Match is one cache lookup result with its score and how it was found.
type Match struct {
	Conversation store.Conversation `json:"conversation"`
	Similarity   float64            `json:"similarity"`
	MatchType    MatchType          `json:"match_type"`
}

// ConversationStore is the storage handle the engine is constructed with.
type ConversationStore interface {
	Save(ctx context.Context, conv *store.Conversation, keywords []store.WeightedKeyword) (string, error)
	GetByID(ctx context.Context, id string) (*store.Conversation, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*store.Conversation, error)
	FindByKeywords(ctx context.Context, keywords []string, minSimilarity float64, limit int) ([]store.ScoredConversation, error)
	RecordHit(ctx context.Context, conversationID string, userID, sessionID *string) error
	DeleteByID(ctx context.Context, id string) (int64, error)
	Purge(ctx context.Context, cutoff time.Time, minUsage int64) (int64, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

type SaveRequest struct {
	Query     string
	Response  string
	UserID    *string
	SessionID *string
	Metadata  store.Metadata
}

type FindRequest struct {
	Query         string
	Limit         int
	MinSimilarity float64
	UserID        *string
	SessionID     *string
}

// CacheService is the similarity cache engine: fingerprint exact matching,
// keyword-weighted ranking, usage tracking and retention.
type CacheService struct {
	dbStore ConversationStore
	log     *logger.Logger
}

func NewCacheService(db ConversationStore, log *logger.Logger) *CacheService {
	return &CacheService{dbStore: db, log: log}
}

// Save writes a query/response pair and its keyword index entries as one
// atomic unit. Saving a query whose normalized form was seen before replaces
// the stored record (see store.Save for the usage-count policy).
func (s *CacheService) Save(ctx context.Context, req SaveRequest) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", ErrEmptyQuery
	}
	if strings.TrimSpace(req.Response) == "" {
		return "", ErrEmptyResponse
	}

	tokens := text.Tokenize(req.Query)
	keywords := make([]store.WeightedKeyword, 0, len(tokens))
	for k, tok := range tokens {
		keywords = append(keywords, store.WeightedKeyword{
			Keyword: tok,
			Weight:  text.KeywordWeight(k),
		})
	}

	id, err := s.dbStore.Save(ctx, &store.Conversation{
		Query:       req.Query,
		Response:    req.Response,
		Fingerprint: text.Fingerprint(req.Query),
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Metadata:    req.Metadata,
	}, keywords)
	if err != nil {
		return "", fmt.Errorf("failed to save conversation: %w", err)
	}

	s.log.Debug("conversation saved", "conversation_id", id, "keywords", len(keywords))
	return id, nil
}

// FindSimilar looks up cached answers for a query. An exact fingerprint
// match wins outright with similarity 1.0, regardless of the floor.
// Otherwise candidates sharing at least one keyword are scored, filtered by
// the floor, ordered by similarity then usage count, and truncated to the
// limit. Every returned match gets a usage hit recorded off the read path.
func (s *CacheService) FindSimilar(ctx context.Context, req FindRequest) ([]Match, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	minSimilarity := req.MinSimilarity
	if minSimilarity < 0 {
		minSimilarity = 0
	}

	exact, err := s.dbStore.GetByFingerprint(ctx, text.Fingerprint(req.Query))
	if err == nil {
		s.recordHit(exact.ID, req.UserID, req.SessionID)
		return []Match{{Conversation: *exact, Similarity: 1.0, MatchType: MatchExact}}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed exact-match lookup: %w", err)
	}

	keywords := dedupe(text.Tokenize(req.Query))
	if len(keywords) == 0 {
		return nil, nil
	}

	candidates, err := s.dbStore.FindByKeywords(ctx, keywords, minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed keyword lookup: %w", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, Match{
			Conversation: c.Conversation,
			Similarity:   c.Similarity,
			MatchType:    MatchSimilar,
		})
		s.recordHit(c.ID, req.UserID, req.SessionID)
	}
	return matches, nil
}

func (s *CacheService) GetByID(ctx context.Context, id string) (*store.Conversation, error) {
	return s.dbStore.GetByID(ctx, id)
}

func (s *CacheService) DeleteByID(ctx context.Context, id string) (int64, error) {
	return s.dbStore.DeleteByID(ctx, id)
}

// Purge removes conversations older than maxAgeDays whose usage count is
// below minUsage. Caller-triggered; there is no background sweep.
func (s *CacheService) Purge(ctx context.Context, maxAgeDays int, minUsage int64) (int64, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("max age must not be negative: %d", maxAgeDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	removed, err := s.dbStore.Purge(ctx, cutoff, minUsage)
	if err != nil {
		return 0, err
	}
	s.log.Info("retention sweep complete", "removed", removed, "max_age_days", maxAgeDays, "min_usage", minUsage)
	return removed, nil
}

func (s *CacheService) Stats(ctx context.Context) (*store.Stats, error) {
	return s.dbStore.Stats(ctx)
}

// recordHit is fire-and-forget: the lookup response never waits on it and a
// failure only degrades usage numbers, so errors are logged and swallowed.
func (s *CacheService) recordHit(conversationID string, userID, sessionID *string) {
	go func() {
		if err := s.dbStore.RecordHit(context.Background(), conversationID, userID, sessionID); err != nil {
			s.log.Warn("failed to record cache hit", "conversation_id", conversationID, "error", err)
		}
	}()
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
