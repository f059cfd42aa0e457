// Package dispatch decides between text-only and media tweets and applies
// the content validation shared by both.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"telegram-twitter-relay/media"
	"telegram-twitter-relay/pkg/relay"
)

var (
	// ErrEmptyContent rejects a post with blank text and no media.
	ErrEmptyContent = errors.New("post has no text and no media")

	// ErrContentTooLong rejects text over the configured maximum length.
	ErrContentTooLong = errors.New("post text exceeds the maximum length")

	// ErrTooManyMedia rejects a post with more images than the provider accepts.
	ErrTooManyMedia = errors.New("post has too many media attachments")
)

// Poster is the slice of the Twitter client the dispatcher needs.
type Poster interface {
	PostText(ctx context.Context, text string) (relay.PostResult, error)
	PostWithMedia(ctx context.Context, text string, mediaIDs []string) (relay.PostResult, error)
}

// MediaUploader uploads a batch of images and returns the media ids.
type MediaUploader interface {
	UploadAll(ctx context.Context, assets []media.Asset) ([]string, error)
}

// Dispatcher validates operator posts and routes them to the right adapter call.
type Dispatcher struct {
	poster    Poster
	uploader  MediaUploader
	logger    *slog.Logger
	maxLength int
	maxMedia  int
}

// New creates a dispatcher. maxLength counts code points, not bytes; maxMedia
// caps the attachments per post before anything is transcoded or uploaded.
func New(poster Poster, uploader MediaUploader, maxLength, maxMedia int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		poster:    poster,
		uploader:  uploader,
		maxLength: maxLength,
		maxMedia:  maxMedia,
		logger:    logger,
	}
}

// Dispatch publishes one operator post. Classified adapter errors pass
// through untouched for operator-visible messaging; nothing is retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, assets []media.Asset) (relay.PostResult, error) {
	if strings.TrimSpace(text) == "" && len(assets) == 0 {
		return relay.PostResult{}, ErrEmptyContent
	}
	if n := len([]rune(text)); n > d.maxLength {
		return relay.PostResult{}, fmt.Errorf("%w: %d > %d", ErrContentTooLong, n, d.maxLength)
	}
	if len(assets) > d.maxMedia {
		return relay.PostResult{}, fmt.Errorf("%w: %d > %d", ErrTooManyMedia, len(assets), d.maxMedia)
	}

	if len(assets) == 0 {
		d.logger.Info("Dispatching text post", "length", len([]rune(text)))
		return d.poster.PostText(ctx, text)
	}

	d.logger.Info("Dispatching media post", "length", len([]rune(text)), "media_count", len(assets))
	mediaIDs, err := d.uploader.UploadAll(ctx, assets)
	if err != nil {
		return relay.PostResult{}, fmt.Errorf("upload media: %w", err)
	}
	return d.poster.PostWithMedia(ctx, text, mediaIDs)
}
