package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "semcache_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func saveConversation(t *testing.T, s *SQLiteStore, query, response, fingerprint string, keywords []WeightedKeyword) string {
	t.Helper()
	id, err := s.Save(context.Background(), &Conversation{
		Query:       query,
		Response:    response,
		Fingerprint: fingerprint,
	}, keywords)
	require.NoError(t, err)
	return id
}

func TestSaveAndGetByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	userID := "user-1"
	id, err := s.Save(ctx, &Conversation{
		Query:       "what is rust",
		Response:    "a language",
		Fingerprint: "fp-rust",
		UserID:      &userID,
		Metadata:    Metadata{"source": "test", "tokens": float64(3)},
	}, []WeightedKeyword{{Keyword: "rust", Weight: 1.0}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	conv, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "what is rust", conv.Query)
	assert.Equal(t, "a language", conv.Response)
	assert.Equal(t, int64(1), conv.UsageCount)
	require.NotNil(t, conv.UserID)
	assert.Equal(t, "user-1", *conv.UserID)
	assert.Nil(t, conv.SessionID)
	assert.Equal(t, Metadata{"source": "test", "tokens": float64(3)}, conv.Metadata)
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveUpsertKeepsIDAndUsageCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := saveConversation(t, s, "what is rust", "a language", "fp-rust",
		[]WeightedKeyword{{Keyword: "rust", Weight: 1.0}})

	require.NoError(t, s.RecordHit(ctx, id, nil, nil))
	require.NoError(t, s.RecordHit(ctx, id, nil, nil))

	replacedID := saveConversation(t, s, "What is Rust", "a systems language", "fp-rust",
		[]WeightedKeyword{{Keyword: "rust", Weight: 1.0}})
	assert.Equal(t, id, replacedID)

	conv, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a systems language", conv.Response)
	assert.Equal(t, int64(3), conv.UsageCount, "popularity survives a re-save")

	var keywordRows int64
	require.NoError(t, s.db.Get(&keywordRows, "SELECT COUNT(*) FROM keywords WHERE conversation_id = ?", id))
	assert.Equal(t, int64(1), keywordRows, "keyword rows are rewritten, not appended")
}

func TestSaveRollsBackOnKeywordFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Weight 0 violates the keywords check constraint mid-transaction.
	_, err := s.Save(ctx, &Conversation{
		Query:       "broken save",
		Response:    "never visible",
		Fingerprint: "fp-broken",
	}, []WeightedKeyword{
		{Keyword: "broken", Weight: 1.0},
		{Keyword: "save", Weight: 0},
	})
	require.Error(t, err)

	_, err = s.GetByFingerprint(ctx, "fp-broken")
	assert.ErrorIs(t, err, ErrNotFound)

	var keywordRows int64
	require.NoError(t, s.db.Get(&keywordRows, "SELECT COUNT(*) FROM keywords"))
	assert.Zero(t, keywordRows)
}

func TestFindByKeywordsWeightedSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := saveConversation(t, s, "alpha beta gamma", "resp", "fp-abg", []WeightedKeyword{
		{Keyword: "alpha", Weight: 1.0},
		{Keyword: "beta", Weight: 0.9},
		{Keyword: "gamma", Weight: 0.8},
	})

	matches, err := s.FindByKeywords(ctx, []string{"alpha"}, 0, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-12)

	matches, err = s.FindByKeywords(ctx, []string{"beta"}, 0, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.9, matches[0].Similarity, 1e-12)

	// Two query keywords, one matching: normalized by the query size.
	matches, err = s.FindByKeywords(ctx, []string{"alpha", "unknown"}, 0, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.5, matches[0].Similarity, 1e-12)
}

func TestFindByKeywordsThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveConversation(t, s, "beta first", "resp", "fp-b", []WeightedKeyword{
		{Keyword: "beta", Weight: 0.9},
	})

	matches, err := s.FindByKeywords(ctx, []string{"beta"}, 0.99, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "0.9 score is below a 0.99 floor")

	matches, err = s.FindByKeywords(ctx, []string{"beta"}, 0.9, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 1, "floor comparison is inclusive")
}

func TestFindByKeywordsTieBreakOnUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cold := saveConversation(t, s, "shared topic one", "resp", "fp-1", []WeightedKeyword{
		{Keyword: "topic", Weight: 1.0},
	})
	hot := saveConversation(t, s, "shared topic two", "resp", "fp-2", []WeightedKeyword{
		{Keyword: "topic", Weight: 1.0},
	})

	_, err := s.db.Exec("UPDATE conversations SET usage_count = 3 WHERE id = ?", cold)
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE conversations SET usage_count = 7 WHERE id = ?", hot)
	require.NoError(t, err)

	matches, err := s.FindByKeywords(ctx, []string{"topic"}, 0, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, hot, matches[0].ID)
	assert.Equal(t, cold, matches[1].ID)
}

func TestFindByKeywordsAggregatesDuplicateEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The same stem stored twice: one candidate row, weights summed.
	id := saveConversation(t, s, "cache the cache", "resp", "fp-cc", []WeightedKeyword{
		{Keyword: "cach", Weight: 1.0},
		{Keyword: "cach", Weight: 0.9},
	})

	matches, err := s.FindByKeywords(ctx, []string{"cach"}, 0, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.InDelta(t, 1.9, matches[0].Similarity, 1e-12)
}

func TestFindByKeywordsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, fp := range []string{"fp-x", "fp-y", "fp-z"} {
		saveConversation(t, s, fp, "resp", fp, []WeightedKeyword{
			{Keyword: "shared", Weight: 1.0 - 0.1*float64(i)},
		})
	}

	matches, err := s.FindByKeywords(ctx, []string{"shared"}, 0, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestRecordHitAppendsUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sessionID := "sess-9"
	id := saveConversation(t, s, "hit me", "resp", "fp-hit", []WeightedKeyword{
		{Keyword: "hit", Weight: 1.0},
	})
	require.NoError(t, s.RecordHit(ctx, id, nil, &sessionID))

	conv, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), conv.UsageCount)

	history, err := s.UsageHistory(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ConversationID)
	require.NotNil(t, history[0].SessionID)
	assert.Equal(t, "sess-9", *history[0].SessionID)
}

func TestRecordHitUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	// The usage_log insert trips the foreign key; callers only log this.
	assert.Error(t, s.RecordHit(context.Background(), "missing", nil, nil))
}

func TestDeleteByIDCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := saveConversation(t, s, "delete me", "resp", "fp-del", []WeightedKeyword{
		{Keyword: "delet", Weight: 1.0},
	})
	require.NoError(t, s.RecordHit(ctx, id, nil, nil))

	removed, err := s.DeleteByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.GetByID(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	var rows int64
	require.NoError(t, s.db.Get(&rows, "SELECT COUNT(*) FROM keywords WHERE conversation_id = ?", id))
	assert.Zero(t, rows)
	require.NoError(t, s.db.Get(&rows, "SELECT COUNT(*) FROM usage_log WHERE conversation_id = ?", id))
	assert.Zero(t, rows)

	// Idempotent: a second delete removes nothing and is not an error.
	removed, err = s.DeleteByID(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPurgeAgeAndUsagePredicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := saveConversation(t, s, "stale unused", "resp", "fp-stale", []WeightedKeyword{
		{Keyword: "stale", Weight: 1.0},
	})
	popular := saveConversation(t, s, "stale popular", "resp", "fp-pop", []WeightedKeyword{
		{Keyword: "popular", Weight: 1.0},
	})
	fresh := saveConversation(t, s, "fresh unused", "resp", "fp-fresh", []WeightedKeyword{
		{Keyword: "fresh", Weight: 1.0},
	})

	old := time.Now().UTC().AddDate(0, 0, -40)
	_, err := s.db.Exec("UPDATE conversations SET created_at = ? WHERE id IN (?, ?)", old, stale, popular)
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE conversations SET usage_count = 5 WHERE id = ?", popular)
	require.NoError(t, err)

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	removed, err := s.Purge(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.GetByID(ctx, stale)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByID(ctx, popular)
	assert.NoError(t, err, "reused conversations survive regardless of age")
	_, err = s.GetByID(ctx, fresh)
	assert.NoError(t, err, "fresh conversations survive regardless of usage")
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Conversations)
	assert.Zero(t, empty.AvgUsageCount)

	a := saveConversation(t, s, "first query", "resp", "fp-a", []WeightedKeyword{
		{Keyword: "first", Weight: 1.0},
		{Keyword: "queri", Weight: 0.9},
	})
	saveConversation(t, s, "second query", "resp", "fp-b", []WeightedKeyword{
		{Keyword: "second", Weight: 1.0},
	})
	require.NoError(t, s.RecordHit(ctx, a, nil, nil))
	require.NoError(t, s.RecordHit(ctx, a, nil, nil))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Conversations)
	assert.Equal(t, int64(3), stats.Keywords)
	assert.Equal(t, int64(2), stats.UsageRecords)
	assert.Equal(t, int64(3), stats.MaxUsageCount)
	assert.InDelta(t, 2.0, stats.AvgUsageCount, 1e-12)
}
