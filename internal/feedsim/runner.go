// Package feedsim simulates the external killmail feed and reference
// catalog so the pipeline can run end to end without network access.
package feedsim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/okian/lostfits/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Config holds configuration for a simulator run.
type Config struct {
	Addr     string        // Listen address
	Interval time.Duration // One kill is generated per interval
	Backlog  int           // Kills queued before serving starts
	Seed     uint64        // Generator seed
}

// Run serves the simulator on cfg.Addr until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	log := logger.Get().Named("feedsim")

	u := DefaultUniverse()
	srv := NewServer(u)
	gen := NewGenerator(cfg.Seed, u)
	now := time.Now()
	for i := 0; i < cfg.Backlog; i++ {
		srv.Push(gen.Next(now.Add(-time.Duration(cfg.Backlog-i) * time.Minute)))
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("feedsim listen %s: %w", cfg.Addr, err)
	}
	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		if cfg.Interval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				srv.Push(gen.Next(t))
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error(context.Background(), "feedsim shutdown", logger.Error(err))
		}
	}()

	log.Info(ctx, "feedsim listening",
		logger.String("addr", ln.Addr().String()),
		logger.String("feed_url", "http://"+ln.Addr().String()+"/listen.php"),
		logger.String("esi_base", "http://"+ln.Addr().String()),
		logger.Int("backlog", cfg.Backlog))

	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("feedsim serve: %w", err)
	}
	return nil
}
