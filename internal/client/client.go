package client

import (
	"context"
	"fmt"

	"github.com/bluesky-social/indigo/lex/util"
	"github.com/sirupsen/logrus"

	"github.com/christophergentle/postbot/internal/config"
)

// Publisher is the set of platform operations the scheduler drives. Every
// failure is returned as an *Error carrying a Kind.
type Publisher interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Connect authenticates once before the first cycle.
	Connect(ctx context.Context) error
	// UploadMedia uploads a local image and returns a handle usable in a post.
	UploadMedia(ctx context.Context, path string) (*Media, error)
	// Publish creates a new post and returns its public URL.
	Publish(ctx context.Context, text string, media *Media) (string, error)
	// PublishReply replies to target and returns the reply's public URL.
	PublishReply(ctx context.Context, text string, target PostRef, media *Media) (string, error)
	// LatestPost returns the most recent own post of handle, or a
	// KindNotFound error when there is none.
	LatestPost(ctx context.Context, handle string) (PostRef, error)
}

// PostRef points at a post on the platform.
type PostRef struct {
	// ID is the tweet ID or the at:// URI
	ID string
	// CID is the record hash; Bluesky only
	CID string
	// Root is the thread root when the post is itself a reply
	Root *PostRef
}

// Media is an uploaded image.
type Media struct {
	Path     string
	MimeType string
	// ID is the platform media ID where the platform uses one
	ID string

	blob *util.LexBlob
}

// New builds the publisher selected by the configuration.
func New(cfg *config.Config, log logrus.FieldLogger) (Publisher, error) {
	if cfg.DryRun {
		return NewDryRun(log), nil
	}

	switch cfg.Platform {
	case config.PlatformBluesky:
		return NewBluesky(cfg.Bluesky.Host, cfg.Bluesky.Handle, cfg.Bluesky.Password, log), nil
	case config.PlatformTwitter:
		return NewTwitter(cfg.Twitter, log), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}
