package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"distill/internal/model"
	"distill/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveSource inserts or refreshes a source row. The content ID is the
// key, so re-resolving a locator updates metadata in place.
func (s *SQLite) SaveSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC().Format(timeLayout)
	var published *string
	if src.PublishedAt != nil {
		v := src.PublishedAt.UTC().Format(timeLayout)
		published = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (content_id, url, kind, title, duration_seconds, published_at, feed_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(content_id) DO UPDATE SET
		   title = excluded.title,
		   duration_seconds = excluded.duration_seconds,
		   published_at = excluded.published_at,
		   feed_url = excluded.feed_url`,
		src.ContentID, src.URL, string(src.Kind), src.Title, src.DurationSeconds, published, src.FeedURL, now,
	)
	if err != nil {
		return storeErr("insert source", err)
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt, _ = time.Parse(timeLayout, now)
	}
	return nil
}

// GetSource returns a source by its content ID, or nil when absent.
func (s *SQLite) GetSource(ctx context.Context, contentID string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content_id, url, kind, title, duration_seconds, published_at, feed_url, created_at
		 FROM sources WHERE content_id = ?`, contentID,
	)
	var src model.Source
	var kind string
	var published, created sql.NullString
	err := row.Scan(&src.ContentID, &src.URL, &kind, &src.Title, &src.DurationSeconds, &published, &src.FeedURL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("scan source", err)
	}
	src.Kind = model.SourceKind(kind)
	if published.Valid {
		t, _ := time.Parse(timeLayout, published.String)
		src.PublishedAt = &t
	}
	if created.Valid {
		src.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &src, nil
}

// SaveTranscript appends a transcript row and populates its ID and CreatedAt.
func (s *SQLite) SaveTranscript(ctx context.Context, t *model.Transcript) error {
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return storeErr("marshal segments", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (content_id, text, segments_json, language, method, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ContentID, t.Text, string(segments), t.Language, string(t.Method), now,
	)
	if err != nil {
		return storeErr("insert transcript", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("last insert id", err)
	}
	t.ID = id
	t.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetTranscript returns the newest transcript for (contentID, language),
// or nil when none exists.
func (s *SQLite) GetTranscript(ctx context.Context, contentID, language string) (*model.Transcript, error) {
	query := `SELECT id, content_id, text, segments_json, language, method, created_at
		 FROM transcripts WHERE content_id = ?`
	args := []any{contentID}
	if language != "" {
		query += ` AND language = ?`
		args = append(args, language)
	}
	query += ` ORDER BY id DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	var t model.Transcript
	var segments, method, created string
	err := row.Scan(&t.ID, &t.ContentID, &t.Text, &segments, &t.Language, &method, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("scan transcript", err)
	}
	if err := json.Unmarshal([]byte(segments), &t.Segments); err != nil {
		return nil, storeErr("unmarshal segments", err)
	}
	t.Method = model.TranscriptMethod(method)
	t.CreatedAt, _ = time.Parse(timeLayout, created)
	return &t, nil
}

// SaveArticle appends an article row and populates its ID and CreatedAt.
func (s *SQLite) SaveArticle(ctx context.Context, a *model.Article) error {
	sections, err := json.Marshal(a.Sections)
	if err != nil {
		return storeErr("marshal sections", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (content_id, style, language, model, title, subtitle, summary, sections_json, output_path, format, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ContentID, string(a.Style), a.Language, a.Model, a.Title, a.Subtitle, a.Summary, string(sections), a.OutputPath, a.Format, now,
	)
	if err != nil {
		return storeErr("insert article", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("last insert id", err)
	}
	a.ID = id
	a.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetArticle returns the newest article for (contentID, style, language),
// or nil when none exists.
func (s *SQLite) GetArticle(ctx context.Context, contentID string, style model.ArticleStyle, language string) (*model.Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_id, style, language, model, title, subtitle, summary, sections_json, output_path, format, created_at
		 FROM articles WHERE content_id = ? AND style = ? AND language = ?
		 ORDER BY id DESC LIMIT 1`, contentID, string(style), language,
	)
	return scanArticle(row)
}

// ListHistory returns recent articles joined with their sources, newest first.
func (s *SQLite) ListHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.content_id, a.title, a.style, a.format, s.kind, s.url, a.created_at
		 FROM articles a
		 JOIN sources s ON a.content_id = s.content_id
		 ORDER BY a.id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, storeErr("query history", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var style, kind, created string
		if err := rows.Scan(&e.ArticleID, &e.ContentID, &e.Title, &style, &e.Format, &kind, &e.URL, &created); err != nil {
			return nil, storeErr("scan history", err)
		}
		e.Style = model.ArticleStyle(style)
		e.Kind = model.SourceKind(kind)
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateSubscription inserts or updates a subscription, preserving the
// favorite flag and episode set on re-subscribe.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (feed_url, title, auto_process, favorite, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(feed_url) DO UPDATE SET
		   title = excluded.title,
		   auto_process = excluded.auto_process`,
		sub.FeedURL, sub.Title, boolToInt(sub.AutoProcess), boolToInt(sub.Favorite), now,
	)
	if err != nil {
		return storeErr("insert subscription", err)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt, _ = time.Parse(timeLayout, now)
	}
	return nil
}

// GetSubscription returns a subscription by feed URL, or nil when absent.
func (s *SQLite) GetSubscription(ctx context.Context, feedURL string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT feed_url, title, auto_process, favorite, last_checked_at, created_at
		 FROM subscriptions WHERE feed_url = ?`, feedURL,
	)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions, favorites first.
func (s *SQLite) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_url, title, auto_process, favorite, last_checked_at, created_at
		 FROM subscriptions ORDER BY favorite DESC, created_at DESC, feed_url`,
	)
	if err != nil {
		return nil, storeErr("query subscriptions", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// UpdateSubscriptionChecked stamps the subscription's last-checked time.
func (s *SQLite) UpdateSubscriptionChecked(ctx context.Context, feedURL string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_checked_at = ? WHERE feed_url = ?`, now, feedURL,
	)
	if err != nil {
		return storeErr("update last checked", err)
	}
	return nil
}

// SetFavorite sets or clears the favorite flag on a subscription.
func (s *SQLite) SetFavorite(ctx context.Context, feedURL string, favorite bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET favorite = ? WHERE feed_url = ?`, boolToInt(favorite), feedURL,
	)
	if err != nil {
		return storeErr("set favorite", err)
	}
	return nil
}

// DeleteSubscription removes a subscription and its episode set.
func (s *SQLite) DeleteSubscription(ctx context.Context, feedURL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_episodes WHERE feed_url = ?`, feedURL); err != nil {
		return storeErr("delete episodes", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE feed_url = ?`, feedURL); err != nil {
		return storeErr("delete subscription", err)
	}
	return tx.Commit()
}

// AddEpisode records an episode GUID as known for a feed.
func (s *SQLite) AddEpisode(ctx context.Context, feedURL, guid string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscription_episodes (feed_url, guid, seen_at) VALUES (?, ?, ?)`,
		feedURL, guid, now,
	)
	if err != nil {
		return storeErr("add episode", err)
	}
	return nil
}

// HasEpisode checks whether an episode GUID is already known for a feed.
func (s *SQLite) HasEpisode(ctx context.Context, feedURL, guid string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscription_episodes WHERE feed_url = ? AND guid = ?`,
		feedURL, guid,
	).Scan(&count)
	if err != nil {
		return false, storeErr("check episode", err)
	}
	return count > 0, nil
}

// CountEpisodes returns the size of a feed's known-episode set.
func (s *SQLite) CountEpisodes(ctx context.Context, feedURL string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscription_episodes WHERE feed_url = ?`, feedURL,
	).Scan(&count)
	if err != nil {
		return 0, storeErr("count episodes", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanArticle(row scannable) (*model.Article, error) {
	var a model.Article
	var style, sections, created string
	err := row.Scan(&a.ID, &a.ContentID, &style, &a.Language, &a.Model, &a.Title, &a.Subtitle, &a.Summary, &sections, &a.OutputPath, &a.Format, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("scan article", err)
	}
	if err := json.Unmarshal([]byte(sections), &a.Sections); err != nil {
		return nil, storeErr("unmarshal sections", err)
	}
	a.Style = model.ArticleStyle(style)
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	return &a, nil
}

func scanSubscription(row scannable) (*model.Subscription, error) {
	var sub model.Subscription
	var autoProcess, favorite int
	var lastChecked, created sql.NullString
	err := row.Scan(&sub.FeedURL, &sub.Title, &autoProcess, &favorite, &lastChecked, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storeErr("scan subscription", err)
	}
	sub.AutoProcess = autoProcess == 1
	sub.Favorite = favorite == 1
	if lastChecked.Valid {
		t, _ := time.Parse(timeLayout, lastChecked.String)
		sub.LastCheckedAt = &t
	}
	if created.Valid {
		sub.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &sub, nil
}
