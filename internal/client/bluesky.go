package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/client"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/rivo/uniseg"
	"github.com/sirupsen/logrus"
)

const (
	postCollection = "app.bsky.feed.post"

	// Bluesky limits
	blueskyMaxGraphemes  = 300
	blueskyMaxImageBytes = 1_000_000
)

type BlueskyClient struct {
	client   *client.APIClient
	host     string
	handle   string
	password string
	authed   bool
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewBluesky(host, handle, password string, log logrus.FieldLogger) *BlueskyClient {
	return &BlueskyClient{
		client:   client.NewAPIClient(host),
		host:     host,
		handle:   handle,
		password: password,
		log:      log.WithField("platform", "bluesky"),
		now:      time.Now,
	}
}

func (c *BlueskyClient) Name() string {
	return "bluesky"
}

// Connect logs in with the app password and swaps in the authenticated client.
func (c *BlueskyClient) Connect(ctx context.Context) error {
	authClient, err := client.LoginWithPasswordHost(ctx, c.host, c.handle, c.password, "", nil)
	if err != nil {
		return classify("authenticate", err)
	}

	c.client = authClient
	c.authed = true
	c.log.WithField("handle", c.handle).Info("Authenticated with Bluesky")
	return nil
}

// ensureSession logs in on first use when Connect failed or was never called.
func (c *BlueskyClient) ensureSession(ctx context.Context) error {
	if c.authed {
		return nil
	}
	return c.Connect(ctx)
}

// UploadMedia uploads an image blob for embedding in a later post.
func (c *BlueskyClient) UploadMedia(ctx context.Context, path string) (*Media, error) {
	data, mimeType, err := loadImage(path, blueskyMaxImageBytes)
	if err != nil {
		return nil, err
	}
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	out, err := atproto.RepoUploadBlob(ctx, c.client, bytes.NewReader(data))
	if err != nil {
		return nil, classify("upload media", err)
	}

	return &Media{Path: path, MimeType: mimeType, blob: out.Blob}, nil
}

func (c *BlueskyClient) Publish(ctx context.Context, text string, media *Media) (string, error) {
	record, err := c.newRecord(text, media)
	if err != nil {
		return "", err
	}
	return c.createPost(ctx, "publish", record)
}

func (c *BlueskyClient) PublishReply(ctx context.Context, text string, target PostRef, media *Media) (string, error) {
	if target.ID == "" || target.CID == "" {
		return "", &Error{Op: "publish reply", Kind: KindValidation, Err: fmt.Errorf("reply target needs both uri and cid")}
	}

	record, err := c.newRecord(text, media)
	if err != nil {
		return "", err
	}

	parent := &atproto.RepoStrongRef{Uri: target.ID, Cid: target.CID}
	root := parent
	if target.Root != nil {
		root = &atproto.RepoStrongRef{Uri: target.Root.ID, Cid: target.Root.CID}
	}
	record.Reply = &bsky.FeedPost_ReplyRef{Root: root, Parent: parent}

	return c.createPost(ctx, "publish reply", record)
}

// LatestPost returns the newest post authored by handle. Reposts are skipped
// because replying to them would land on somebody else's thread.
func (c *BlueskyClient) LatestPost(ctx context.Context, handle string) (PostRef, error) {
	if err := c.ensureSession(ctx); err != nil {
		return PostRef{}, err
	}

	out, err := bsky.FeedGetAuthorFeed(ctx, c.client, handle, "", "posts_no_replies", false, 10)
	if err != nil {
		return PostRef{}, classify("latest post", err)
	}

	for _, item := range out.Feed {
		if item == nil || item.Post == nil || item.Reason != nil {
			continue
		}

		ref := PostRef{ID: item.Post.Uri, CID: item.Post.Cid}
		if item.Post.Record != nil {
			if feedPost, ok := item.Post.Record.Val.(*bsky.FeedPost); ok && feedPost.Reply != nil && feedPost.Reply.Root != nil {
				ref.Root = &PostRef{ID: feedPost.Reply.Root.Uri, CID: feedPost.Reply.Root.Cid}
			}
		}
		return ref, nil
	}

	return PostRef{}, &Error{Op: "latest post", Kind: KindNotFound, Err: fmt.Errorf("no posts found for @%s", handle)}
}

func (c *BlueskyClient) newRecord(text string, media *Media) (*bsky.FeedPost, error) {
	if n := uniseg.GraphemeClusterCount(text); n > blueskyMaxGraphemes {
		return nil, &Error{
			Op:   "publish",
			Kind: KindValidation,
			Err:  fmt.Errorf("post is %d graphemes, limit is %d", n, blueskyMaxGraphemes),
		}
	}

	record := &bsky.FeedPost{
		Text:      text,
		CreatedAt: c.now().UTC().Format(time.RFC3339),
		Facets:    createTextFacets(text),
	}

	if media != nil && media.blob != nil {
		record.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{
				Images: []*bsky.EmbedImages_Image{
					{Alt: "", Image: media.blob},
				},
			},
		}
	}

	return record, nil
}

func (c *BlueskyClient) createPost(ctx context.Context, op string, record *bsky.FeedPost) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	out, err := atproto.RepoCreateRecord(ctx, c.client, &atproto.RepoCreateRecord_Input{
		Repo:       c.handle,
		Collection: postCollection,
		Record:     &util.LexiconTypeDecoder{Val: record},
	})
	if err != nil {
		return "", classify(op, err)
	}

	return convertATURItoWebURL(out.Uri), nil
}

// convertATURItoWebURL converts an AT Protocol URI to a web-friendly URL
// Example: at://did:plc:abc123/app.bsky.feed.post/xyz789 -> https://bsky.app/profile/did:plc:abc123/post/xyz789
func convertATURItoWebURL(uri string) string {
	if !strings.HasPrefix(uri, "at://") {
		return uri
	}

	// [did, collection, rkey]
	parts := strings.Split(strings.TrimPrefix(uri, "at://"), "/")
	if len(parts) >= 3 && parts[1] == postCollection {
		return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", parts[0], parts[2])
	}

	return uri
}
