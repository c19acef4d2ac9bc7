package fts

import (
	"context"
	"fmt"
)

// MediaItem is a full document stored for keyword and full-text
// retrieval alongside its vector records.
type MediaItem struct {
	ID      string
	Title   string
	Content string
}

// UpsertMedia stores or replaces the media row. The tsvector column is
// generated by the database from title and content.
func (s *Store) UpsertMedia(ctx context.Context, item MediaItem) error {
	query := `INSERT INTO media_items (id, title, content) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content, updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, query, item.ID, item.Title, item.Content)
	if err != nil {
		return fmt.Errorf("upsert media %s: %w", item.ID, err)
	}
	return nil
}

// ReplaceKeywords sets the media item's keyword tags, dropping any it
// no longer carries.
func (s *Store) ReplaceKeywords(ctx context.Context, mediaID string, keywords []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM media_keywords WHERE media_id = $1`, mediaID); err != nil {
		return fmt.Errorf("clear keywords for %s: %w", mediaID, err)
	}
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO media_keywords (media_id, keyword) VALUES ($1, $2) ON CONFLICT DO NOTHING`, mediaID, kw); err != nil {
			return fmt.Errorf("tag %s with %q: %w", mediaID, kw, err)
		}
	}
	return tx.Commit()
}
