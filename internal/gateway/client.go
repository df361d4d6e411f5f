// Package gateway implements the HTTP client for the upstream medical-record
// gateway. The gateway exposes a single JSON-POST endpoint; every call names
// a class and method pair in its envelope.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/collector"
)

// Config controls gateway client behavior.
type Config struct {
	BaseURL        string
	Endpoint       string
	APIKey         string
	UserAgent      string
	Timeout        time.Duration
	MaxConnections int
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "/api"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = collector.DefaultFetchConcurrency
	}
	return c
}

// Client implements collector.Gateway over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Client with a pooled transport sized to the configured
// connection limit.
func New(cfg Config, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}
}

// requestEnvelope is the gateway's fixed request shape.
type requestEnvelope struct {
	Params requestParams  `json:"params"`
	Data   map[string]any `json:"data"`
}

type requestParams struct {
	Class  string `json:"c"`
	Method string `json:"m"`
}

// SearchTests retrieves one listing page of test events for a department and
// date range.
func (c *Client) SearchTests(ctx context.Context, q collector.SearchQuery) ([]collector.RawListingRecord, error) {
	dateRange := fmt.Sprintf("%s - %s",
		q.From.Format(collector.DateLayout),
		q.To.Format(collector.DateLayout),
	)
	payload := requestEnvelope{
		Params: requestParams{Class: "Search", Method: "searchData"},
		Data: map[string]any{
			"PersonPeriodicType_id":      "1",
			"SearchFormType":             "EvnUslugaPar",
			"EvnUslugaPar_setDate_Range": dateRange,
			"MedService_id":              q.DepartmentID,
			"start":                      strconv.Itoa(q.Offset),
			"limit":                      strconv.Itoa(q.Limit),
		},
	}

	var resp struct {
		Data []collector.RawListingRecord `json:"data"`
	}
	if err := c.post(ctx, "search tests", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// LoadResult retrieves the free-text result for one test identifier. A
// successful response with no html content is reported via the Empty flag,
// not as an error.
func (c *Client) LoadResult(ctx context.Context, resultID string) (collector.ResultPayload, error) {
	payload := requestEnvelope{
		Params: requestParams{Class: "EvnXml", Method: "doLoadData"},
		Data:   map[string]any{"EvnXml_id": resultID},
	}

	var resp struct {
		HTML string `json:"html"`
	}
	if err := c.post(ctx, "load result", payload, &resp); err != nil {
		return collector.ResultPayload{}, err
	}
	return collector.ResultPayload{
		HTML:  resp.HTML,
		Empty: resp.HTML == "",
	}, nil
}

// post executes one envelope request and decodes the response body. Network
// failures and 5xx statuses classify as transient upstream errors; 4xx
// statuses are terminal.
func (c *Client) post(ctx context.Context, op string, payload requestEnvelope, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return collector.NewDataError(op, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return collector.NewDataError(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-KEY", c.cfg.APIKey)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return collector.NewUpstreamError(op, fmt.Errorf("gateway request: %w", err), true)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close response body failed", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return collector.NewUpstreamError(op,
			fmt.Errorf("gateway status %d", resp.StatusCode), true)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return collector.NewUpstreamError(op,
			fmt.Errorf("gateway status %d", resp.StatusCode), false)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return collector.NewUpstreamError(op, fmt.Errorf("read response: %w", err), true)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return collector.NewUpstreamError(op, fmt.Errorf("decode response: %w", err), false)
	}
	return nil
}
