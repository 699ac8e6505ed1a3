// Package collyfetcher implements crawler.Fetcher against the Hacker News
// Firebase API using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-mirror/internal/fetcher"
	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/policy/ratelimit"
)

const (
	// DefaultBaseURL is the public Hacker News API root.
	DefaultBaseURL = "https://hacker-news.firebaseio.com"
	defaultTimeout = 15 * time.Second
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every call is
// a single GET with no retry. Clones of baseCollector share its HTTP client,
// so the client is configured once in New and never touched per request.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response is what the hooks capture from one visit.
type response struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher. A nil limiter disables rate limiting.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// TopStoriesURL returns the top story id list endpoint.
func (f *Fetcher) TopStoriesURL() string {
	return f.cfg.BaseURL + "/v0/topstories.json"
}

// ItemURL returns the endpoint for one item.
func (f *Fetcher) ItemURL(id item.ID) string {
	return fmt.Sprintf("%s/v0/item/%d.json", f.cfg.BaseURL, id)
}

// FetchTopIDs retrieves the current ranked top story ids.
func (f *Fetcher) FetchTopIDs(ctx context.Context) ([]item.ID, error) {
	url := f.TopStoriesURL()
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	ids, err := item.DecodeIDs(body)
	if err != nil {
		return nil, fetcher.Decode(url, err)
	}
	return ids, nil
}

// FetchItem retrieves one item. A null body or a record whose id differs
// from the requested one is a decode error.
func (f *Fetcher) FetchItem(ctx context.Context, id item.ID) (*item.Item, error) {
	url := f.ItemURL(id)
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	it, err := item.Decode(body)
	if err != nil {
		return nil, fetcher.Decode(url, err)
	}
	if it.ID != id {
		return nil, fetcher.Decode(url, fmt.Errorf("record id %d does not match requested id %d", it.ID, id))
	}
	return it, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx, url); err != nil {
		return nil, fetcher.Transport(url, 0, err)
	}

	start := time.Now()
	var resp response
	collector := f.buildCollector(&resp)
	if err := f.runCollector(ctx, collector, url, &resp); err != nil {
		f.logger.Debug("remote request failed",
			zap.String("url", url),
			zap.Int("status", resp.status),
			zap.Duration("dur", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	return resp.body, nil
}

// buildCollector returns a per-request clone carrying its own hooks. Only
// collector-local fields may be set here.
func (f *Fetcher) buildCollector(resp *response) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, resp)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp *response) {
	hooks.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.status = r.StatusCode
		}
		resp.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, resp *response) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fetcher.Transport(url, 0, fmt.Errorf("colly fetch canceled: %w", ctx.Err()))
	case err := <-done:
		if err == nil {
			err = resp.err
		}
		if err != nil {
			return fetcher.Transport(url, resp.status, err)
		}
		if resp.status < 200 || resp.status >= 300 {
			return fetcher.Transport(url, resp.status, errors.New(http.StatusText(resp.status)))
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
	}
}
