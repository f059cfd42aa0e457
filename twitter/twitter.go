// Package twitter is the single choke point for Twitter API access. It wraps
// the v2 REST endpoints plus the v1.1 media upload endpoint, signs requests
// with OAuth1 user context, and normalizes the provider error space into the
// Kind taxonomy consumed by the rest of the service.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/dghubble/oauth1"

	"telegram-twitter-relay/pkg/relay"
)

const (
	defaultAPIBase    = "https://api.twitter.com"
	defaultUploadBase = "https://upload.twitter.com"
	defaultMaxLength  = 280
)

// Credentials is the immutable API credential bundle. It is owned by the
// client; nothing else in the service sees raw tokens.
type Credentials struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
	BearerToken       string
}

// Validate checks that every credential is present.
func (c Credentials) Validate() error {
	switch {
	case c.APIKey == "":
		return errors.New("missing TWITTER_API_KEY")
	case c.APISecret == "":
		return errors.New("missing TWITTER_API_SECRET")
	case c.AccessToken == "":
		return errors.New("missing TWITTER_ACCESS_TOKEN")
	case c.AccessTokenSecret == "":
		return errors.New("missing TWITTER_ACCESS_TOKEN_SECRET")
	case c.BearerToken == "":
		return errors.New("missing TWITTER_BEARER_TOKEN")
	}
	return nil
}

// Config holds client construction parameters. Base URLs and the HTTP client
// are injectable so tests can point the client at a local server.
type Config struct {
	Credentials Credentials
	APIBase     string
	UploadBase  string
	MaxLength   int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client talks to the Twitter API on behalf of one account.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	creds      Credentials
	apiBase    string
	uploadBase string
	maxLength  int

	selfMu     sync.Mutex
	selfID     string
	selfProbed bool
}

// New creates a Twitter client. When no HTTP client is supplied, an OAuth1
// signing client is built from the credentials.
func New(cfg *Config) (*Client, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		oaConfig := oauth1.NewConfig(cfg.Credentials.APIKey, cfg.Credentials.APISecret)
		oaToken := oauth1.NewToken(cfg.Credentials.AccessToken, cfg.Credentials.AccessTokenSecret)
		httpClient = oaConfig.Client(oauth1.NoContext, oaToken)
		httpClient.Timeout = 30 * time.Second
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	uploadBase := cfg.UploadBase
	if uploadBase == "" {
		uploadBase = defaultUploadBase
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = defaultMaxLength
	}

	return &Client{
		creds:      cfg.Credentials,
		httpClient: httpClient,
		apiBase:    apiBase,
		uploadBase: uploadBase,
		maxLength:  maxLength,
		logger:     cfg.Logger,
	}, nil
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// PostText publishes a text-only tweet.
func (c *Client) PostText(ctx context.Context, text string) (relay.PostResult, error) {
	if err := c.validateText(text); err != nil {
		return relay.PostResult{}, err
	}
	return c.createTweet(ctx, tweetRequest{Text: text})
}

// PostWithMedia publishes a tweet with up to four attached media ids. The
// text may be empty for a media-only tweet; an empty id list degrades to a
// plain text tweet.
func (c *Client) PostWithMedia(ctx context.Context, text string, mediaIDs []string) (relay.PostResult, error) {
	if len(mediaIDs) == 0 {
		return c.PostText(ctx, text)
	}
	if len(mediaIDs) > 4 {
		return relay.PostResult{}, &APIError{Kind: MalformedRequest, Detail: fmt.Sprintf("%d media ids, maximum is 4", len(mediaIDs))}
	}
	if err := c.validateLength(text); err != nil {
		return relay.PostResult{}, err
	}
	return c.createTweet(ctx, tweetRequest{Text: text, Media: &tweetMedia{MediaIDs: mediaIDs}})
}

func (c *Client) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &APIError{Kind: MalformedRequest, Detail: "tweet text is empty"}
	}
	return c.validateLength(text)
}

func (c *Client) validateLength(text string) error {
	if n := len([]rune(text)); n > c.maxLength {
		return &APIError{Kind: MalformedRequest, Detail: fmt.Sprintf("tweet is %d characters, maximum is %d", n, c.maxLength)}
	}
	return nil
}

func (c *Client) createTweet(ctx context.Context, req tweetRequest) (relay.PostResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return relay.PostResult{}, fmt.Errorf("marshal tweet request: %w", err)
	}

	var resp tweetResponse
	if err := c.doJSON(ctx, http.MethodPost, c.apiBase+"/2/tweets", "application/json", body, &resp); err != nil {
		return relay.PostResult{}, err
	}

	c.logger.Info("Tweet created", "tweet_id", resp.Data.ID, "length", len([]rune(req.Text)))
	return relay.PostResult{
		PostID:    resp.Data.ID,
		Permalink: "https://twitter.com/user/status/" + resp.Data.ID,
		Text:      req.Text,
	}, nil
}

type mediaUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

// UploadMedia pushes raw media bytes to the upload endpoint and returns the
// media id to attach to a tweet. Oversized payloads come back PayloadTooLarge.
func (c *Client) UploadMedia(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", "media")
	if err != nil {
		return "", fmt.Errorf("create multipart field: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	var resp mediaUploadResponse
	uploadURL := c.uploadBase + "/1.1/media/upload.json"
	if err := c.doJSON(ctx, http.MethodPost, uploadURL, mw.FormDataContentType(), buf.Bytes(), &resp); err != nil {
		return "", err
	}

	c.logger.Info("Media uploaded", "media_id", resp.MediaIDString, "bytes", len(data))
	return resp.MediaIDString, nil
}

type dmEventsResponse struct {
	Data []struct {
		ID          string    `json:"id"`
		Text        string    `json:"text"`
		SenderID    string    `json:"sender_id"`
		CreatedAt   time.Time `json:"created_at"`
		Attachments struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
}

// FetchDirectMessages returns recent inbound direct messages in provider
// order, excluding messages the account sent itself.
func (c *Client) FetchDirectMessages(ctx context.Context, maxResults int) ([]relay.DirectMessageEvent, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("dm_event.fields", "id,text,created_at,sender_id,attachments")
	q.Set("expansions", "sender_id")
	q.Set("user.fields", "id,username,name")

	var resp dmEventsResponse
	if err := c.doJSON(ctx, http.MethodGet, c.apiBase+"/2/dm_events?"+q.Encode(), "", nil, &resp); err != nil {
		return nil, err
	}

	users := make(map[string]struct{ name, handle string }, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		users[u.ID] = struct{ name, handle string }{u.Name, u.Username}
	}

	self := c.SelfID(ctx)
	events := make([]relay.DirectMessageEvent, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.SenderID == self {
			continue // echo of our own outbound message
		}
		ev := relay.DirectMessageEvent{
			ID:          d.ID,
			SenderID:    d.SenderID,
			Text:        d.Text,
			CreatedAt:   d.CreatedAt,
			Attachments: d.Attachments.MediaKeys,
		}
		if u, ok := users[d.SenderID]; ok {
			ev.SenderName = u.name
			ev.SenderHandle = u.handle
		}
		events = append(events, ev)
	}

	c.logger.Info("Direct messages fetched", "total", len(resp.Data), "inbound", len(events))
	return events, nil
}

type meResponse struct {
	Data struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"data"`
}

// SelfID returns the authenticated account id, probing the identity endpoint
// on first use. When the probe fails it falls back to the numeric prefix of
// the access token, which encodes the account id before the first dash. The
// fallback is not cached; later calls probe again until one succeeds.
func (c *Client) SelfID(ctx context.Context) string {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	if c.selfProbed {
		return c.selfID
	}

	var resp meResponse
	if err := c.doJSON(ctx, http.MethodGet, c.apiBase+"/2/users/me", "", nil, &resp); err == nil && resp.Data.ID != "" {
		c.selfID = resp.Data.ID
		c.selfProbed = true
		c.logger.Info("Authenticated account resolved", "user_id", resp.Data.ID, "handle", resp.Data.Username)
		return c.selfID
	}

	// Fallback heuristic only; the token prefix is not a documented format.
	if c.selfID == "" {
		c.selfID, _, _ = strings.Cut(c.creds.AccessToken, "-")
	}
	c.logger.Warn("Identity probe failed, using access token prefix", "user_id", c.selfID)
	return c.selfID
}

// TestConnectivity is a best-effort identity probe. It never returns an
// error; any failure reports false.
func (c *Client) TestConnectivity(ctx context.Context) bool {
	var resp meResponse
	if err := c.doJSON(ctx, http.MethodGet, c.apiBase+"/2/users/me", "", nil, &resp); err != nil {
		c.logger.Warn("Connectivity test failed", "error", err)
		return false
	}
	c.logger.Info("Connectivity test passed", "user_id", resp.Data.ID)
	return resp.Data.ID != ""
}

type apiErrorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// doJSON performs one API call with retries. Transient failures (network
// errors, 5xx, 429) are retried with backoff; classified caller and auth
// errors are returned immediately.
func (c *Client) doJSON(ctx context.Context, method, rawURL, contentType string, body []byte, out any) error {
	err := retry.Do(
		func() error {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Twitter API request failed, will retry",
					"method", method,
					"url", rawURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				apiErr := &APIError{
					Kind:       classifyStatus(resp.StatusCode),
					StatusCode: resp.StatusCode,
					Detail:     errorDetail(respBody),
				}
				c.logger.Warn("Twitter API returned error status",
					"method", method,
					"url", rawURL,
					"status_code", resp.StatusCode,
					"kind", apiErr.Kind.String(),
					"duration_ms", duration.Milliseconds())
				if !retryable(apiErr) {
					return retry.Unrecoverable(apiErr)
				}
				return apiErr
			}

			if out != nil {
				if err := json.Unmarshal(respBody, out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("unmarshal response: %w", err))
				}
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Twitter API call after error", "attempt", n, "url", rawURL, "error", err)
		}),
	)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return fmt.Errorf("twitter api %s %s: %w", method, rawURL, err)
	}
	return nil
}

// errorDetail pulls a human-readable message out of an API error body.
func errorDetail(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return strings.TrimSpace(string(body))
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	if parsed.Title != "" {
		return parsed.Title
	}
	if len(parsed.Errors) > 0 {
		return parsed.Errors[0].Message
	}
	return strings.TrimSpace(string(body))
}
