package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"github.com/dghubble/sling"
	"github.com/sirupsen/logrus"

	"github.com/christophergentle/postbot/internal/config"
)

const (
	defaultTwitterUploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	defaultTwitterStatusURL = "https://api.twitter.com/1.1/statuses/update.json"
	twitterMaxImageBytes    = 5 * 1024 * 1024
)

// TwitterClient posts through the v1.1 API with OAuth1 user credentials.
type TwitterClient struct {
	api       *twitter.Client
	http      *http.Client
	uploadURL string
	statusURL string
	log       logrus.FieldLogger
}

func NewTwitter(cfg config.TwitterConfig, log logrus.FieldLogger) *TwitterClient {
	oauthConfig := oauth1.NewConfig(cfg.APIKey, cfg.APISecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
	httpClient := oauthConfig.Client(oauth1.NoContext, token)

	return newTwitterClient(httpClient, defaultTwitterUploadURL, log)
}

func newTwitterClient(httpClient *http.Client, uploadURL string, log logrus.FieldLogger) *TwitterClient {
	return &TwitterClient{
		api:       twitter.NewClient(httpClient),
		http:      httpClient,
		uploadURL: uploadURL,
		statusURL: defaultTwitterStatusURL,
		log:       log.WithField("platform", "twitter"),
	}
}

func (c *TwitterClient) Name() string {
	return "twitter"
}

// Connect verifies the OAuth1 credentials.
func (c *TwitterClient) Connect(ctx context.Context) error {
	user, resp, err := c.api.Accounts.VerifyCredentials(&twitter.AccountVerifyParams{
		SkipStatus: twitter.Bool(true),
	})
	if err != nil {
		return classifyTwitter("authenticate", resp, err)
	}

	c.log.WithField("handle", user.ScreenName).Info("Authenticated with Twitter")
	return nil
}

// UploadMedia sends the image to the media upload endpoint. go-twitter does
// not cover it, so this is a plain multipart request on the signed client.
func (c *TwitterClient) UploadMedia(ctx context.Context, path string) (*Media, error) {
	data, mimeType, err := loadImage(path, twitterMaxImageBytes)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return nil, &Error{Op: "upload media", Kind: KindMedia, Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return nil, &Error{Op: "upload media", Kind: KindMedia, Err: err}
	}
	if err := form.Close(); err != nil {
		return nil, &Error{Op: "upload media", Kind: KindMedia, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		return nil, &Error{Op: "upload media", Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify("upload media", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "upload media", Kind: KindTransport, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyTwitter("upload media", resp, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(payload)))
	}

	var uploaded struct {
		MediaID       int64  `json:"media_id"`
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(payload, &uploaded); err != nil {
		return nil, &Error{Op: "upload media", Kind: KindTransport, Err: fmt.Errorf("failed to decode upload response: %w", err)}
	}

	id := uploaded.MediaIDString
	if id == "" {
		id = strconv.FormatInt(uploaded.MediaID, 10)
	}

	return &Media{Path: path, MimeType: mimeType, ID: id}, nil
}

func (c *TwitterClient) Publish(ctx context.Context, text string, media *Media) (string, error) {
	params := &twitter.StatusUpdateParams{}
	if err := attachMediaIDs(params, media); err != nil {
		return "", err
	}

	tweet, resp, err := c.api.Statuses.Update(text, params)
	if err != nil {
		return "", classifyTwitter("publish", resp, err)
	}

	return tweetURL(tweet), nil
}

// replyParams mirrors StatusUpdateParams plus auto_populate_reply_metadata,
// which go-twitter does not expose.
type replyParams struct {
	Status                    string  `url:"status"`
	InReplyToStatusID         int64   `url:"in_reply_to_status_id"`
	AutoPopulateReplyMetadata bool    `url:"auto_populate_reply_metadata"`
	MediaIds                  []int64 `url:"media_ids,omitempty,comma"`
}

func (c *TwitterClient) PublishReply(ctx context.Context, text string, target PostRef, media *Media) (string, error) {
	statusID, err := strconv.ParseInt(target.ID, 10, 64)
	if err != nil {
		return "", &Error{Op: "publish reply", Kind: KindValidation, Err: fmt.Errorf("bad tweet id %q: %w", target.ID, err)}
	}

	update := &twitter.StatusUpdateParams{}
	if err := attachMediaIDs(update, media); err != nil {
		return "", err
	}
	params := &replyParams{
		Status:                    text,
		InReplyToStatusID:         statusID,
		AutoPopulateReplyMetadata: true,
		MediaIds:                  update.MediaIds,
	}

	api := sling.New().Client(c.http).Post(c.statusURL).BodyForm(params)
	req, err := api.Request()
	if err != nil {
		return "", &Error{Op: "publish reply", Kind: KindTransport, Err: err}
	}

	tweet := new(twitter.Tweet)
	apiErr := new(twitter.APIError)
	resp, err := api.Do(req.WithContext(ctx), tweet, apiErr)
	if err != nil {
		return "", classifyTwitter("publish reply", resp, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if apiErr.Empty() {
			return "", classifyTwitter("publish reply", resp, fmt.Errorf("status %d", resp.StatusCode))
		}
		return "", classifyTwitter("publish reply", resp, *apiErr)
	}

	return tweetURL(tweet), nil
}

// LatestPost returns the newest tweet on the user's timeline, retweets excluded.
func (c *TwitterClient) LatestPost(ctx context.Context, handle string) (PostRef, error) {
	tweets, resp, err := c.api.Timelines.UserTimeline(&twitter.UserTimelineParams{
		ScreenName:      handle,
		Count:           5,
		IncludeRetweets: twitter.Bool(false),
	})
	if err != nil {
		return PostRef{}, classifyTwitter("latest post", resp, err)
	}

	for _, tweet := range tweets {
		if tweet.RetweetedStatus != nil {
			continue
		}
		return PostRef{ID: tweetID(&tweet)}, nil
	}

	return PostRef{}, &Error{Op: "latest post", Kind: KindNotFound, Err: fmt.Errorf("no tweets found for @%s", handle)}
}

func attachMediaIDs(params *twitter.StatusUpdateParams, media *Media) error {
	if media == nil || media.ID == "" {
		return nil
	}
	id, err := strconv.ParseInt(media.ID, 10, 64)
	if err != nil {
		return &Error{Op: "publish", Kind: KindMedia, Err: fmt.Errorf("bad media id %q: %w", media.ID, err)}
	}
	params.MediaIds = []int64{id}
	return nil
}

func tweetID(tweet *twitter.Tweet) string {
	if tweet.IDStr != "" {
		return tweet.IDStr
	}
	return strconv.FormatInt(tweet.ID, 10)
}

func tweetURL(tweet *twitter.Tweet) string {
	return fmt.Sprintf("https://x.com/i/web/status/%s", tweetID(tweet))
}

// classifyTwitter prefers the HTTP status and the v1.1 error codes over
// message matching.
func classifyTwitter(op string, resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &Error{Op: op, Kind: KindAuth, Err: err}
		case http.StatusTooManyRequests:
			return &Error{Op: op, Kind: KindRateLimit, Err: err}
		case http.StatusNotFound:
			return &Error{Op: op, Kind: KindNotFound, Err: err}
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &Error{Op: op, Kind: KindValidation, Err: err}
		}
	}

	var apiErr twitter.APIError
	if errors.As(err, &apiErr) && len(apiErr.Errors) > 0 {
		switch apiErr.Errors[0].Code {
		case 88:
			return &Error{Op: op, Kind: KindRateLimit, Err: err}
		case 32, 89, 135, 326:
			return &Error{Op: op, Kind: KindAuth, Err: err}
		case 34, 144, 50:
			return &Error{Op: op, Kind: KindNotFound, Err: err}
		case 186, 187, 324, 385:
			return &Error{Op: op, Kind: KindValidation, Err: err}
		}
	}

	return classify(op, err)
}
