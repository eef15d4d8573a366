package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DryRunClient logs what would be published and returns synthetic URLs.
type DryRunClient struct {
	log logrus.FieldLogger

	mu    sync.Mutex
	count int
}

func NewDryRun(log logrus.FieldLogger) *DryRunClient {
	return &DryRunClient{log: log.WithField("platform", "dryrun")}
}

func (c *DryRunClient) Name() string {
	return "dryrun"
}

func (c *DryRunClient) Connect(ctx context.Context) error {
	c.log.Info("Dry run mode enabled, nothing will be posted")
	return nil
}

func (c *DryRunClient) UploadMedia(ctx context.Context, path string) (*Media, error) {
	c.log.WithField("path", path).Debug("Would upload image")
	return &Media{Path: path, ID: "dryrun-media"}, nil
}

func (c *DryRunClient) Publish(ctx context.Context, text string, media *Media) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify("publish", err)
	}
	url := c.nextURL()
	c.log.WithFields(logrus.Fields{"url": url, "image": mediaPath(media)}).Infof("Would post: %s", preview(text))
	return url, nil
}

func (c *DryRunClient) PublishReply(ctx context.Context, text string, target PostRef, media *Media) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify("publish reply", err)
	}
	url := c.nextURL()
	c.log.WithFields(logrus.Fields{"url": url, "target": target.ID, "image": mediaPath(media)}).Infof("Would reply: %s", preview(text))
	return url, nil
}

func (c *DryRunClient) LatestPost(ctx context.Context, handle string) (PostRef, error) {
	return PostRef{ID: fmt.Sprintf("dryrun://%s/latest", handle), CID: "dryrun"}, nil
}

func (c *DryRunClient) nextURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return fmt.Sprintf("dryrun://post/%d", c.count)
}

func mediaPath(media *Media) string {
	if media == nil {
		return ""
	}
	return media.Path
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return string(runes)
}
