// Package feed fetches listing batches from the upstream HTTP endpoint.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	simplejson "github.com/bitly/go-simplejson"

	"launchwatch/config"
	"launchwatch/internal/extract"
	"launchwatch/logger"
)

const maxBodyBytes = 16 << 20

// ErrFetch wraps every failure to obtain a batch.
var ErrFetch = errors.New("feed fetch failed")

// Source yields the current upstream batch.
type Source interface {
	Fetch(ctx context.Context) ([]*simplejson.Json, error)
}

type Client struct {
	http      *http.Client
	url       string
	listKey   string
	userAgent string
	log       *logger.Entry
}

func NewClient(cfg config.FeedConfig, log *logger.Log) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	}
	if cfg.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleConnTimeout
	}
	listKey := cfg.ListKey
	if listKey == "" {
		listKey = "pools"
	}
	return &Client{
		http:      &http.Client{Timeout: timeout, Transport: transport},
		url:       cfg.URL,
		listKey:   listKey,
		userAgent: cfg.UserAgent,
		log:       log.WithComponent("feed"),
	}
}

// Fetch returns the records of one batch. A document without the list key,
// or with a non-array value under it, is an empty batch.
func (c *Client) Fetch(ctx context.Context) ([]*simplejson.Json, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	doc, err := simplejson.NewFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrFetch, err)
	}
	records := extract.Records(doc, c.listKey)
	if _, ok := doc.CheckGet(c.listKey); !ok {
		c.log.WithFields(logger.Fields{"list_key": c.listKey}).Warn("feed document has no listing array")
	}

	logger.LogDataFlowEntry(c.log, "feed", "monitor", len(records), "listing")
	logger.LogPerformanceEntry(c.log, "feed", "fetch", time.Since(start), logger.Fields{"bytes": len(body)})
	return records, nil
}
