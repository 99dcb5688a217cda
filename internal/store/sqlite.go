package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned by point lookups with no matching row.
var ErrNotFound = errors.New("conversation not found")

type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	// Cascading deletes require the foreign_keys pragma on every connection.
	if !strings.Contains(dataSourceName, "_foreign_keys") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_foreign_keys=on"
		} else {
			dataSourceName += "?_foreign_keys=on"
		}
	}

	db, err := sqlx.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        query TEXT NOT NULL,
        response TEXT NOT NULL,
        fingerprint TEXT UNIQUE NOT NULL,
        user_id TEXT,
        session_id TEXT,
        metadata TEXT,
        usage_count INTEGER NOT NULL DEFAULT 1,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations (created_at);

    CREATE TABLE IF NOT EXISTS keywords (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id TEXT NOT NULL,
        keyword TEXT NOT NULL,
        weight REAL NOT NULL CHECK (weight > 0 AND weight <= 1),
        FOREIGN KEY (conversation_id) REFERENCES conversations (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_keywords_keyword ON keywords (keyword);
    CREATE INDEX IF NOT EXISTS idx_keywords_conversation ON keywords (conversation_id);

    CREATE TABLE IF NOT EXISTS usage_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id TEXT NOT NULL,
        accessed_at DATETIME NOT NULL,
        user_id TEXT,
        session_id TEXT,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_usage_log_conversation ON usage_log (conversation_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts a conversation together with its keyword rows in one
// transaction. On a fingerprint conflict the existing row is replaced but
// keeps its id and usage_count; the accumulated popularity feeds retention,
// so a re-save must not discard it. Keyword rows are always rewritten.
// Returns the id of the inserted or replaced conversation.
func (s *SQLiteStore) Save(ctx context.Context, conv *Conversation, keywords []WeightedKeyword) (string, error) {
	now := time.Now().UTC()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	conv.CreatedAt = now
	conv.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin save transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO conversations (id, query, response, fingerprint, user_id, session_id, metadata, usage_count, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
        ON CONFLICT (fingerprint) DO UPDATE SET
            query = excluded.query,
            response = excluded.response,
            user_id = excluded.user_id,
            session_id = excluded.session_id,
            metadata = excluded.metadata,
            updated_at = excluded.updated_at`,
		conv.ID, conv.Query, conv.Response, conv.Fingerprint,
		conv.UserID, conv.SessionID, conv.Metadata, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to upsert conversation: %w", err)
	}

	// On replace the winning row keeps its original id.
	var id string
	if err = tx.GetContext(ctx, &id, "SELECT id FROM conversations WHERE fingerprint = ?", conv.Fingerprint); err != nil {
		return "", fmt.Errorf("failed to resolve conversation id: %w", err)
	}
	conv.ID = id

	if _, err = tx.ExecContext(ctx, "DELETE FROM keywords WHERE conversation_id = ?", id); err != nil {
		return "", fmt.Errorf("failed to clear prior keywords: %w", err)
	}

	if len(keywords) > 0 {
		// One batched statement so the keyword rows land or fail as a unit.
		var sb strings.Builder
		sb.WriteString("INSERT INTO keywords (conversation_id, keyword, weight) VALUES ")
		args := make([]any, 0, len(keywords)*3)
		for i, kw := range keywords {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, id, kw.Keyword, kw.Weight)
		}
		if _, err = tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return "", fmt.Errorf("failed to insert keywords: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit save: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.GetContext(ctx, &conv, `
        SELECT id, query, response, fingerprint, user_id, session_id, metadata, usage_count, created_at, updated_at
        FROM conversations WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *SQLiteStore) GetByFingerprint(ctx context.Context, fingerprint string) (*Conversation, error) {
	var conv Conversation
	err := s.db.GetContext(ctx, &conv, `
        SELECT id, query, response, fingerprint, user_id, session_id, metadata, usage_count, created_at, updated_at
        FROM conversations WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by fingerprint: %w", err)
	}
	return &conv, nil
}

// FindByKeywords scores every conversation sharing at least one keyword with
// the query. Similarity is the sum of matching entry weights divided by the
// query's keyword count — extra keywords on the stored side are not
// penalized. Candidates below minSimilarity are dropped; ties on similarity
// are broken by usage_count so hotter answers rank first.
func (s *SQLiteStore) FindByKeywords(ctx context.Context, keywords []string, minSimilarity float64, limit int) ([]ScoredConversation, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
        SELECT c.id, c.query, c.response, c.fingerprint, c.user_id, c.session_id, c.metadata,
               c.usage_count, c.created_at, c.updated_at,
               SUM(k.weight) / CAST(? AS REAL) AS similarity
        FROM keywords k
        JOIN conversations c ON c.id = k.conversation_id
        WHERE k.keyword IN (?)
        GROUP BY c.id
        HAVING similarity >= ?
        ORDER BY similarity DESC, c.usage_count DESC
        LIMIT ?`,
		len(keywords), keywords, minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build keyword query: %w", err)
	}

	var matches []ScoredConversation
	if err := s.db.SelectContext(ctx, &matches, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query keyword matches: %w", err)
	}
	return matches, nil
}

// RecordHit bumps the usage counter and appends a usage-log row. The two
// writes are independent best-effort statements: a failure in one does not
// prevent the other, and callers treat any returned error as log-only.
func (s *SQLiteStore) RecordHit(ctx context.Context, conversationID string, userID, sessionID *string) error {
	var errs []error
	if _, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET usage_count = usage_count + 1 WHERE id = ?", conversationID); err != nil {
		errs = append(errs, fmt.Errorf("failed to increment usage count: %w", err))
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO usage_log (conversation_id, accessed_at, user_id, session_id) VALUES (?, ?, ?, ?)",
		conversationID, time.Now().UTC(), userID, sessionID); err != nil {
		errs = append(errs, fmt.Errorf("failed to append usage record: %w", err))
	}
	return errors.Join(errs...)
}

// DeleteByID removes a conversation; keyword and usage rows cascade.
// Deleting an absent id is not an error, the count is just zero.
func (s *SQLiteStore) DeleteByID(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete count: %w", err)
	}
	return removed, nil
}

// Purge removes conversations created before the cutoff whose usage count
// stayed below minUsage. A single predicate-scoped delete, so a failure
// leaves the store untouched.
func (s *SQLiteStore) Purge(ctx context.Context, cutoff time.Time, minUsage int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE created_at < ? AND usage_count < ?", cutoff.UTC(), minUsage)
	if err != nil {
		return 0, fmt.Errorf("failed to purge conversations: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge count: %w", err)
	}
	return removed, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.db.GetContext(ctx, &stats, `
        SELECT COUNT(*) AS conversations,
               COALESCE(AVG(usage_count), 0) AS avg_usage_count,
               COALESCE(MAX(usage_count), 0) AS max_usage_count
        FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation stats: %w", err)
	}
	if err = s.db.GetContext(ctx, &stats.Keywords, "SELECT COUNT(*) FROM keywords"); err != nil {
		return nil, fmt.Errorf("failed to count keywords: %w", err)
	}
	if err = s.db.GetContext(ctx, &stats.UsageRecords, "SELECT COUNT(*) FROM usage_log"); err != nil {
		return nil, fmt.Errorf("failed to count usage records: %w", err)
	}
	return &stats, nil
}

// UsageHistory returns the append-only access log for a conversation, most
// recent first.
func (s *SQLiteStore) UsageHistory(ctx context.Context, conversationID string, limit int) ([]UsageRecord, error) {
	var records []UsageRecord
	err := s.db.SelectContext(ctx, &records, `
        SELECT id, conversation_id, accessed_at, user_id, session_id
        FROM usage_log WHERE conversation_id = ?
        ORDER BY accessed_at DESC, id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage history: %w", err)
	}
	return records, nil
}
