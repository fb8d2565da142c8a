// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"fmt"

	"distill/internal/model"
)

// Storage is the interface for all persistence operations.
//
// Get methods return (nil, nil) when no row matches: absence is a normal
// outcome, not an error. SaveTranscript and SaveArticle are append-only;
// the Get methods return the newest row for the key.
type Storage interface {
	SaveSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, contentID string) (*model.Source, error)

	SaveTranscript(ctx context.Context, t *model.Transcript) error
	// GetTranscript returns the newest transcript for the content in the
	// given language; an empty language matches any.
	GetTranscript(ctx context.Context, contentID, language string) (*model.Transcript, error)

	SaveArticle(ctx context.Context, a *model.Article) error
	GetArticle(ctx context.Context, contentID string, style model.ArticleStyle, language string) (*model.Article, error)

	ListHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error)

	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, feedURL string) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	UpdateSubscriptionChecked(ctx context.Context, feedURL string) error
	SetFavorite(ctx context.Context, feedURL string, favorite bool) error
	DeleteSubscription(ctx context.Context, feedURL string) error

	// Episode-set operations key episodes by their feed GUID.
	AddEpisode(ctx context.Context, feedURL, guid string) error
	HasEpisode(ctx context.Context, feedURL, guid string) (bool, error)
	CountEpisodes(ctx context.Context, feedURL string) (int, error)

	Close() error
}

// StoreError wraps a failure of the local persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
