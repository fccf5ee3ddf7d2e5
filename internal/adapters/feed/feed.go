// Package feed is a client for the zKillboard RedisQ killmail stream.
//
// Each call to Next pulls at most one package. RedisQ answers
// {"package": null} when nothing is waiting, which Next reports as a nil
// payload with no error.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

const (
	defaultQueueID       = "lostfits"
	defaultTTW           = 1
	defaultTimeout       = 15 * time.Second
	defaultMaxTries      = 3
	defaultRetryInterval = 500 * time.Millisecond
	defaultMaxBodyBytes  = 8 << 20
)

// Source yields raw killmail packages one at a time.
type Source interface {
	Next(ctx context.Context) (json.RawMessage, error)
}

// Client polls a RedisQ endpoint.
type Client struct {
	http          *http.Client
	endpoint      string
	queueID       string
	ttw           int
	maxTries      uint
	retryInterval time.Duration
	maxBodyBytes  int64
	logger        logger.Logger
}

// New creates a RedisQ client for endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		http:          &http.Client{Timeout: defaultTimeout},
		endpoint:      endpoint,
		queueID:       defaultQueueID,
		ttw:           defaultTTW,
		maxTries:      defaultMaxTries,
		retryInterval: defaultRetryInterval,
		maxBodyBytes:  defaultMaxBodyBytes,
		logger:        logger.Get().Named("feed"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Package json.RawMessage `json:"package"`
}

// Next returns the next package, or nil when the queue is empty.
func (c *Client) Next(ctx context.Context) (json.RawMessage, error) {
	u, err := c.requestURL()
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	pkg, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		return c.fetch(ctx, u)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn(ctx, "feed fetch failed, retrying", logger.Error(err), logger.Duration("next", next))
		}),
	)
	if err != nil {
		metrics.RecordFeedFetchError()
		return nil, err
	}
	if pkg == nil {
		metrics.RecordFeedEmptyPoll()
	}
	return pkg, nil
}

func (c *Client) requestURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint %q: %w", ErrBadResponse, c.endpoint, err)
	}
	q := u.Query()
	q.Set("queueID", c.queueID)
	q.Set("ttw", strconv.Itoa(c.ttw))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetch(ctx context.Context, u string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrBadResponse, err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// One byte past the limit tells a full body from a cut one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode))
	case int64(len(body)) > c.maxBodyBytes:
		return nil, backoff.Permanent(fmt.Errorf("%w: more than %d bytes", ErrOversized, c.maxBodyBytes))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrBadResponse, err))
	}
	if len(env.Package) == 0 || bytes.Equal(bytes.TrimSpace(env.Package), []byte("null")) {
		return nil, nil
	}
	return env.Package, nil
}
