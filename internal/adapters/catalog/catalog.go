// Package catalog is a client for the ESI universe reference endpoints.
//
// Every request, retries included, first takes a token from the shared
// limiter so the whole process stays under the configured rate.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
	"github.com/okian/lostfits/pkg/ratelimit"
)

const (
	defaultUserAgent     = "LostFits/1.0"
	defaultTimeout       = 10 * time.Second
	defaultMaxTries      = 3
	defaultRetryInterval = 500 * time.Millisecond
	maxBodyBytes         = 4 << 20

	// ESI answers 420 when the error budget is exhausted.
	statusErrorLimited = 420
)

// Resources, also used as metric labels.
const (
	ResourceType          = "type"
	ResourceGroup         = "group"
	ResourceSystem        = "system"
	ResourceConstellation = "constellation"
	ResourceRegion        = "region"
	ResourceRegions       = "regions"
)

// ConstellationInfo is a constellation with the systems it contains.
type ConstellationInfo struct {
	model.Constellation
	Systems []int64 `json:"systems"`
}

// RegionInfo is a region with the constellations it contains.
type RegionInfo struct {
	model.Region
	Constellations []int64 `json:"constellations"`
}

// Catalog resolves reference IDs.
type Catalog interface {
	Type(ctx context.Context, id int64) (model.ItemType, error)
	Group(ctx context.Context, id int64) (model.ItemGroup, error)
	System(ctx context.Context, id int64) (model.SolarSystem, error)
	Constellation(ctx context.Context, id int64) (ConstellationInfo, error)
	Region(ctx context.Context, id int64) (RegionInfo, error)
	RegionIDs(ctx context.Context) ([]int64, error)
}

// Client talks to ESI.
type Client struct {
	http          *http.Client
	base          string
	userAgent     string
	limiter       *ratelimit.Limiter
	maxTries      uint
	retryInterval time.Duration
	logger        logger.Logger
}

var _ Catalog = (*Client)(nil)

// New creates an ESI client rooted at base. The limiter is shared with every
// other catalog user in the process.
func New(base string, limiter *ratelimit.Limiter, opts ...Option) *Client {
	c := &Client{
		http:          &http.Client{Timeout: defaultTimeout},
		base:          strings.TrimRight(base, "/"),
		userAgent:     defaultUserAgent,
		limiter:       limiter,
		maxTries:      defaultMaxTries,
		retryInterval: defaultRetryInterval,
		logger:        logger.Get().Named("catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type fetches name and group of an item type. CategoryID is left zero;
// it comes from Group.
func (c *Client) Type(ctx context.Context, id int64) (model.ItemType, error) {
	var out model.ItemType
	err := c.get(ctx, ResourceType, "/universe/types/"+strconv.FormatInt(id, 10)+"/", &out)
	if err != nil {
		return model.ItemType{}, err
	}
	out.TypeID = id
	out.CategoryID = 0
	return out, nil
}

// Group fetches an item group and its category.
func (c *Client) Group(ctx context.Context, id int64) (model.ItemGroup, error) {
	var out model.ItemGroup
	if err := c.get(ctx, ResourceGroup, "/universe/groups/"+strconv.FormatInt(id, 10)+"/", &out); err != nil {
		return model.ItemGroup{}, err
	}
	out.GroupID = id
	return out, nil
}

// System fetches a solar system.
func (c *Client) System(ctx context.Context, id int64) (model.SolarSystem, error) {
	var out model.SolarSystem
	if err := c.get(ctx, ResourceSystem, "/universe/systems/"+strconv.FormatInt(id, 10)+"/", &out); err != nil {
		return model.SolarSystem{}, err
	}
	out.SystemID = id
	return out, nil
}

// Constellation fetches a constellation with its system IDs.
func (c *Client) Constellation(ctx context.Context, id int64) (ConstellationInfo, error) {
	var out ConstellationInfo
	if err := c.get(ctx, ResourceConstellation, "/universe/constellations/"+strconv.FormatInt(id, 10)+"/", &out); err != nil {
		return ConstellationInfo{}, err
	}
	out.ConstellationID = id
	return out, nil
}

// Region fetches a region with its constellation IDs.
func (c *Client) Region(ctx context.Context, id int64) (RegionInfo, error) {
	var out RegionInfo
	if err := c.get(ctx, ResourceRegion, "/universe/regions/"+strconv.FormatInt(id, 10)+"/", &out); err != nil {
		return RegionInfo{}, err
	}
	out.RegionID = id
	return out, nil
}

// RegionIDs lists every region ID.
func (c *Client) RegionIDs(ctx context.Context) ([]int64, error) {
	var out []int64
	if err := c.get(ctx, ResourceRegions, "/universe/regions/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, resource, path string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.do(ctx, resource, path)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug(ctx, "catalog request failed, retrying",
				logger.String("path", path), logger.Error(err), logger.Duration("next", next))
		}),
	)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadResponse, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, resource, path string) ([]byte, error) {
	if c.limiter != nil {
		waited, err := c.limiter.Wait(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		metrics.RecordRateLimiterWait(float64(waited.Milliseconds()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrBadResponse, err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordCatalogRequest(resource, "error", float64(time.Since(start).Milliseconds()))
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.RecordCatalogRequest(resource, strconv.Itoa(resp.StatusCode), float64(time.Since(start).Milliseconds()))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, path))
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == statusErrorLimited,
		resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: status %d", ErrBadResponse, path, resp.StatusCode))
	case readErr != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, path, readErr)
	}
	return body, nil
}

// IsNotFound reports whether err means the catalog does not know the ID.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
