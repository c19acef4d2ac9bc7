package fts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Source types searchable through the full-text store. Each maps to
// its own table and keyword join table.
const (
	SourceTypeMedia      = "media"
	SourceTypeChats      = "chats"
	SourceTypeNotes      = "notes"
	SourceTypeCharacters = "characters"
)

// UnsupportedSourceTypeError reports a source type no searcher exists
// for. It is a configuration mistake, never an empty result.
type UnsupportedSourceTypeError struct {
	SourceType string
}

func (e *UnsupportedSourceTypeError) Error() string {
	return fmt.Sprintf("unsupported source type %q", e.SourceType)
}

// Result is one full-text hit.
type Result struct {
	ID         string
	Title      string
	Content    string
	Rank       float32
	SourceType string
}

type sourceTable struct {
	table        string
	keywordTable string
	keywordFK    string
}

var sourceTables = map[string]sourceTable{
	SourceTypeMedia:      {table: "media_items", keywordTable: "media_keywords", keywordFK: "media_id"},
	SourceTypeChats:      {table: "chat_messages", keywordTable: "chat_keywords", keywordFK: "chat_id"},
	SourceTypeNotes:      {table: "notes", keywordTable: "note_keywords", keywordFK: "note_id"},
	SourceTypeCharacters: {table: "character_cards", keywordTable: "character_keywords", keywordFK: "character_id"},
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func Supported(sourceType string) bool {
	_, ok := sourceTables[sourceType]
	return ok
}

func SourceTypes() []string {
	return []string{SourceTypeMedia, SourceTypeChats, SourceTypeNotes, SourceTypeCharacters}
}

// SearchFullText ranks rows of one source type against the query. An
// idFilter restricts the search to those row ids; nil searches the
// whole table.
func (s *Store) SearchFullText(ctx context.Context, query, sourceType string, idFilter []string, topK int) ([]Result, error) {
	src, ok := sourceTables[sourceType]
	if !ok {
		return nil, &UnsupportedSourceTypeError{SourceType: sourceType}
	}

	q := fmt.Sprintf(`SELECT id, title, content, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS rank
FROM %s
WHERE content_tsv @@ plainto_tsquery('english', $1)`, src.table)
	args := []interface{}{query}

	if idFilter != nil {
		q += ` AND id = ANY($2)`
		args = append(args, pq.Array(idFilter))
		q += ` ORDER BY rank DESC LIMIT $3`
	} else {
		q += ` ORDER BY rank DESC LIMIT $2`
	}
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text search %s: %w", sourceType, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r := Result{SourceType: sourceType}
		var title sql.NullString
		if err := rows.Scan(&r.ID, &title, &r.Content, &r.Rank); err != nil {
			return nil, err
		}
		r.Title = title.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountRows returns the number of indexed rows for a source type.
func (s *Store) CountRows(ctx context.Context, sourceType string) (int, error) {
	src, ok := sourceTables[sourceType]
	if !ok {
		return 0, &UnsupportedSourceTypeError{SourceType: sourceType}
	}

	var count int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, src.table)
	if err := s.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows for %s: %w", sourceType, err)
	}
	return count, nil
}

// ResolveIDs maps keywords to the row ids tagged with any of them.
func (s *Store) ResolveIDs(ctx context.Context, sourceType string, keywords []string) ([]string, error) {
	src, ok := sourceTables[sourceType]
	if !ok {
		return nil, &UnsupportedSourceTypeError{SourceType: sourceType}
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	q := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE keyword = ANY($1)`, src.keywordFK, src.keywordTable)
	rows, err := s.db.QueryContext(ctx, q, pq.Array(keywords))
	if err != nil {
		return nil, fmt.Errorf("resolve keywords for %s: %w", sourceType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
