package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/okian/lostfits/internal/adapters/feed"
	"github.com/okian/lostfits/internal/domain/model"
	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

const defaultBatchSize = 50

// Report summarises one tick.
type Report struct {
	Fetched    int           `json:"fetched"`
	Ingested   int           `json:"ingested"`
	Duplicates int           `json:"duplicates"`
	Malformed  int           `json:"malformed"`
	Failed     int           `json:"failed"`
	FetchError string        `json:"fetch_error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Poller drains the feed into an Ingester.
type Poller struct {
	source    feed.Source
	ingester  *Ingester
	batchSize int
	logger    logger.Logger
}

// NewPoller creates a Poller.
func NewPoller(src feed.Source, ing *Ingester, opts ...PollerOption) *Poller {
	p := &Poller{
		source:    src,
		ingester:  ing,
		batchSize: defaultBatchSize,
		logger:    logger.Get().Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tick pulls packages until the feed is empty, the batch is full, a fetch
// fails or ctx ends. Malformed packages and store failures are counted and
// skipped.
func (p *Poller) Tick(ctx context.Context) Report {
	start := time.Now()
	var rep Report
	defer func() {
		rep.Duration = time.Since(start)
		metrics.RecordPollTickDuration(float64(rep.Duration.Milliseconds()))
	}()

	for rep.Fetched < p.batchSize {
		if ctx.Err() != nil {
			break
		}
		payload, err := p.source.Next(ctx)
		if errors.Is(err, feed.ErrOversized) {
			// The feed already handed the package out; count it and move on.
			rep.Fetched++
			rep.Malformed++
			metrics.RecordKillmailMalformed()
			p.logger.Warn(ctx, "oversized feed package skipped", logger.Error(err))
			continue
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Warn(ctx, "feed fetch failed", logger.Error(err))
				rep.FetchError = err.Error()
			}
			break
		}
		if payload == nil {
			metrics.RecordFeedEmptyPoll()
			break
		}
		rep.Fetched++

		ev, err := model.ParseKillmail(payload)
		if err != nil {
			rep.Malformed++
			metrics.RecordKillmailMalformed()
			p.logger.Warn(ctx, "malformed killmail skipped", logger.Error(err))
			continue
		}

		switch out, err := p.ingester.Ingest(ctx, ev); out {
		case Ingested:
			rep.Ingested++
		case Duplicate:
			rep.Duplicates++
		default:
			rep.Failed++
			p.logger.Error(ctx, "killmail not stored", logger.Error(err))
		}
	}

	if rep.Fetched > 0 || rep.FetchError != "" {
		p.logger.Info(ctx, "poll tick",
			logger.Int("fetched", rep.Fetched),
			logger.Int("ingested", rep.Ingested),
			logger.Int("duplicates", rep.Duplicates),
			logger.Int("malformed", rep.Malformed),
			logger.Int("failed", rep.Failed),
		)
	}
	return rep
}
