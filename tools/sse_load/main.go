// Command sse_load opens many concurrent subscriptions against the engine's
// event streams (/events or /deliveries/stream) and reports what they receive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	URL      string        `long:"url" default:"http://localhost:8090/events" description:"SSE endpoint"`
	Conns    int           `long:"conns" default:"500" description:"concurrent subscriptions"`
	Duration time.Duration `long:"dur" default:"60s" description:"test duration, 0 runs until interrupted"`
	RampUp   time.Duration `long:"ramp" description:"spread connection starts across this window"`
	Report   time.Duration `long:"report" default:"5s" description:"progress log interval"`
}

// counters are shared by every subscriber goroutine.
type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	status      atomic.Int64
	deliveries  atomic.Int64
	other       atomic.Int64
	heartbeats  atomic.Int64
}

func (c *counters) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("connected", c.connected.Load()),
		zap.Int64("connect_errs", c.connectErrs.Load()),
		zap.Int64("stream_errs", c.streamErrs.Load()),
		zap.Int64("status", c.status.Load()),
		zap.Int64("deliveries", c.deliveries.Load()),
		zap.Int64("other", c.other.Load()),
		zap.Int64("heartbeats", c.heartbeats.Load()),
	}
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, opts); err != nil {
		logger.Fatal("load test failed", zap.Error(err))
	}
}

func run(l *zap.Logger, opts options) error {
	if opts.Conns <= 0 {
		return errors.Errorf("invalid --conns %d", opts.Conns)
	}
	if opts.RampUp == 0 && opts.Conns > 100 {
		// one second per 500 connections
		opts.RampUp = max(time.Duration(opts.Conns/500)*time.Second, time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	l.Info("starting SSE load",
		zap.String("url", opts.URL),
		zap.Int("conns", opts.Conns),
		zap.Duration("duration", opts.Duration),
		zap.Duration("ramp", opts.RampUp))

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     opts.Conns + 100,
			MaxIdleConns:        opts.Conns + 100,
			MaxIdleConnsPerHost: opts.Conns + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	var (
		c     counters
		wg    sync.WaitGroup
		start = time.Now()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(opts.Report)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				l.Info("status", append(c.fields(), zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))...)
			}
		}
	})

	interval := opts.RampUp / time.Duration(opts.Conns)
	for i := 0; i < opts.Conns && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			subscribe(ctx, client, opts.URL, &c)
		}()
	}

	wg.Wait()
	stop()
	_ = g.Wait()

	elapsed := max(time.Since(start), time.Millisecond)
	received := c.status.Load() + c.deliveries.Load() + c.other.Load()
	l.Info("done", append(c.fields(),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)),
		zap.Float64("events_per_sec", float64(received)/elapsed.Seconds()))...)
	return nil
}

// subscribe holds one stream open until ctx is done, counting events by name.
func subscribe(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			c.heartbeats.Add(1)
		case line == "event: status":
			c.status.Add(1)
		case line == "event: delivery":
			c.deliveries.Add(1)
		case strings.HasPrefix(line, "event:"):
			c.other.Add(1)
		}
	}
	if ctx.Err() == nil {
		c.streamErrs.Add(1)
	}
}
