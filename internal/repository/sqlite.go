package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/annotator/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			rule_id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_domain ON rules(domain)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			categories TEXT,
			messages TEXT NOT NULL,
			post_url TEXT NOT NULL DEFAULT '',
			length INTEGER NOT NULL DEFAULT 0,
			last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			domain TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS annotations (
			annotation_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			rule_id TEXT NOT NULL,
			type TEXT NOT NULL,
			violation_type TEXT,
			comment TEXT NOT NULL,
			annotator TEXT NOT NULL,
			ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_conversation ON annotations(conversation_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("annotations", "replacement_suggestion", "ALTER TABLE annotations ADD COLUMN replacement_suggestion TEXT"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func affected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// ListRules returns rules in creation order, optionally filtered by domain.
func (s *SQLiteStore) ListRules(ctx context.Context, domainName string) ([]domain.Rule, error) {
	query := `SELECT rule_id, domain, name, description, category FROM rules`
	var args []interface{}
	if domainName != "" {
		query += ` WHERE domain = ?`
		args = append(args, domainName)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []domain.Rule{}
	for rows.Next() {
		var r domain.Rule
		if err := rows.Scan(&r.ID, &r.Domain, &r.Name, &r.Description, &r.Category); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	var r domain.Rule
	err := s.db.QueryRowContext(ctx,
		`SELECT rule_id, domain, name, description, category FROM rules WHERE rule_id = ?`,
		id).Scan(&r.ID, &r.Domain, &r.Name, &r.Description, &r.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRule creates a new rule.
func (s *SQLiteStore) CreateRule(ctx context.Context, rule *domain.Rule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (rule_id, domain, name, description, category, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Domain, rule.Name, rule.Description, rule.Category, time.Now())
	return err
}

// UpdateRule replaces the stored fields of rule.
func (s *SQLiteStore) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET domain = ?, name = ?, description = ?, category = ? WHERE rule_id = ?`,
		rule.Domain, rule.Name, rule.Description, rule.Category, rule.ID)
	if err != nil {
		return err
	}
	return affected(res, "rule", rule.ID)
}

// DeleteRule deletes a rule. Annotations that reference it are kept.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE rule_id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res, "rule", id)
}

const conversationColumns = `conversation_id, title, categories, messages, post_url, length, last_updated, domain`

func scanConversation(scan func(dest ...interface{}) error) (*domain.Conversation, error) {
	var c domain.Conversation
	var categories sql.NullString
	var messages string
	if err := scan(&c.ID, &c.Title, &categories, &messages, &c.PostURL, &c.Length, &c.LastUpdated, &c.Domain); err != nil {
		return nil, err
	}
	c.Categories = []string{}
	if categories.Valid && categories.String != "" {
		if err := json.Unmarshal([]byte(categories.String), &c.Categories); err != nil {
			return nil, fmt.Errorf("decode categories of %s: %w", c.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(messages), &c.Conversation); err != nil {
		return nil, fmt.Errorf("decode messages of %s: %w", c.ID, err)
	}
	return &c, nil
}

// ListConversations returns every conversation, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY last_updated DESC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := []domain.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ?`, id)
	c, err := scanConversation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func encodeConversation(conv *domain.Conversation) (string, string, error) {
	categories, err := json.Marshal(conv.Categories)
	if err != nil {
		return "", "", err
	}
	msgs := conv.Conversation
	if msgs == nil {
		msgs = []domain.Message{}
	}
	messages, err := json.Marshal(msgs)
	if err != nil {
		return "", "", err
	}
	return string(categories), string(messages), nil
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	categories, messages, err := encodeConversation(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, categories, messages, conv.PostURL, conv.Length, conv.LastUpdated, conv.Domain)
	return err
}

// UpdateConversation replaces the stored fields of conv.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	categories, messages, err := encodeConversation(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, categories = ?, messages = ?, post_url = ?, length = ?, last_updated = ?, domain = ?
		WHERE conversation_id = ?`,
		conv.Title, categories, messages, conv.PostURL, conv.Length, conv.LastUpdated, conv.Domain, conv.ID)
	if err != nil {
		return err
	}
	return affected(res, "conversation", conv.ID)
}

// DeleteConversation deletes a conversation and its annotations.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res, "conversation", id)
}

// CountConversations returns the number of stored conversations.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

// ListAnnotations returns annotations in creation order. An empty
// conversationID lists every annotation.
func (s *SQLiteStore) ListAnnotations(ctx context.Context, conversationID string) ([]domain.Annotation, error) {
	query := `SELECT annotation_id, conversation_id, message_index, start_offset, end_offset, rule_id, type,
		violation_type, comment, replacement_suggestion, annotator, ts FROM annotations`
	var args []interface{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY ts ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	anns := []domain.Annotation{}
	for rows.Next() {
		var a domain.Annotation
		var violationType, suggestion sql.NullString
		if err := rows.Scan(&a.ID, &a.ConversationID,
			&a.Selection.MessageIndex, &a.Selection.StartOffset, &a.Selection.EndOffset,
			&a.Selection.RuleID, &a.Selection.Type, &violationType, &a.Selection.Comment, &suggestion,
			&a.Annotator, &a.Timestamp); err != nil {
			return nil, err
		}
		if violationType.Valid {
			a.Selection.ViolationType = domain.ViolationType(violationType.String)
		}
		if suggestion.Valid {
			a.Selection.ReplacementSuggestion = suggestion.String
		}
		anns = append(anns, a)
	}
	return anns, rows.Err()
}

// CreateAnnotation creates a new annotation.
func (s *SQLiteStore) CreateAnnotation(ctx context.Context, ann *domain.Annotation) error {
	sel := ann.Selection
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO annotations (annotation_id, conversation_id, message_index, start_offset, end_offset, rule_id, type,
		violation_type, comment, replacement_suggestion, annotator, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ann.ID, ann.ConversationID, sel.MessageIndex, sel.StartOffset, sel.EndOffset, sel.RuleID, sel.Type,
		nullString(string(sel.ViolationType)), sel.Comment, nullString(sel.ReplacementSuggestion), ann.Annotator, ann.Timestamp)
	return err
}
