// Package fetch implements the HTTP transport collaborator: retried page
// fetches through a Colly collector, returning parsed goquery documents or
// raw bytes. The pipeline above it only sees the Fetcher contract.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/dkoval/servicecenter-crawler/internal/metrics"
)

// Fetcher fetches site-relative or absolute references.
type Fetcher interface {
	// Document fetches a page and parses it into a structured document.
	Document(ctx context.Context, ref string) (*goquery.Document, error)
	// Download fetches a binary asset and returns its bytes.
	Download(ctx context.Context, ref string) ([]byte, error)
}

// Config controls collector behavior.
type Config struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	MaxConnections int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Client implements Fetcher using a Colly collector cloned per request.
type Client struct {
	cfg           Config
	base          *url.URL
	policy        *RetryPolicy
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Client. The shared transport enforces the concurrent
// connection ceiling for the whole crawl run.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	// Clones share the visited-URL storage, so revisits must stay allowed:
	// retries re-fetch the failed URL and brand pages are fetched once per
	// linking device.
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode, so set the field directly to keep the collector synchronous.
	c := colly.NewCollector()
	c.Async = false
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport(cfg.MaxConnections))

	return &Client{
		cfg:           cfg,
		base:          base,
		policy:        NewRetryPolicy(cfg.MaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		baseCollector: c,
		logger:        logger,
	}, nil
}

// Document fetches ref and parses the body as HTML.
func (c *Client) Document(ctx context.Context, ref string) (*goquery.Document, error) {
	body, err := c.get(ctx, ref)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", ref, err)
	}
	return doc, nil
}

// Download fetches ref and returns the raw body.
func (c *Client) Download(ctx context.Context, ref string) ([]byte, error) {
	return c.get(ctx, ref)
}

func (c *Client) get(ctx context.Context, ref string) ([]byte, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := c.visit(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !c.policy.ShouldRetry(err, attempt) {
			break
		}
		metrics.FetchRetried()
		c.logger.Debug("retrying fetch",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if !pause(ctx, c.policy.Backoff(attempt)) {
			break
		}
	}
	metrics.FetchFailed()
	return nil, fmt.Errorf("fetch %s: %w", target, lastErr)
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid ref %q: %w", ref, err)
	}
	return c.base.ResolveReference(u).String(), nil
}

// visit runs one attempt on a cloned collector so per-request state never
// leaks between fetches.
func (c *Client) visit(ctx context.Context, target string) ([]byte, error) {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	timeout := c.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("response failed: %w", fetchErr)
		}
		return body, nil
	}
}

func pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func newHTTPTransport(maxConns int) *http.Transport {
	if maxConns <= 0 {
		maxConns = 7
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       90 * time.Second,
	}
}
