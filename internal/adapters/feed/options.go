package feed

import (
	"net/http"
	"time"

	"github.com/okian/lostfits/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithQueueID sets the RedisQ queue identifier.
func WithQueueID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.queueID = id
		}
	}
}

// WithTTW sets the RedisQ time-to-wait in seconds.
func WithTTW(secs int) Option {
	return func(c *Client) {
		if secs >= 0 {
			c.ttw = secs
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithMaxTries bounds attempts per fetch.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithRetryInterval sets the first backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithMaxBodyBytes bounds the size of one response body.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
