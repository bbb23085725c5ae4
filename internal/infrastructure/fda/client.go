package fda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/recallbot/internal/domain"
	"github.com/recallbot/internal/pkg/validate"
	"github.com/rs/zerolog"
)

const (
	serviceName = "fda"
	columnCount = 8
	cellCount   = 6
	maxBody     = 16 << 20
)

// viewParams are the drupal view arguments of the public recalls table.
var viewParams = map[string]string{
	"draw":            "2",
	"total_items":     "0",
	"view_args":       "",
	"view_base_path":  "safety/recalls-market-withdrawals-safety-alerts/datatables-data",
	"view_dom_id":     "db0539dc9749d1956af5cd86b2fac61acdd1e560e6ee28b95ec200c5f0f09ac8",
	"view_display_id": "recall_datatable_block_1",
	"view_name":       "recall_solr_index",
	"view_path":       "/safety/recalls-market-withdrawals-safety-alerts",
	"_drupal_ajax":    "1",
	"_wrapper_format": "drupal_ajax",
	"search[value]":   "",
	"search[regex]":   "false",
}

// Query narrows one fetch. Zero values leave the upstream defaults.
type Query struct {
	Start  int
	Length int
	Search string
}

// response is the datatables envelope. Pointers make the counters required.
type response struct {
	Draw            *int       `json:"draw" validate:"required"`
	RecordsTotal    *int       `json:"recordsTotal" validate:"required"`
	RecordsFiltered *int       `json:"recordsFiltered" validate:"required"`
	Data            [][]string `json:"data" validate:"required,dive,min=6"`
}

// Client reads the FDA recalls datatable.
type Client struct {
	endpoint string
	http     *http.Client
	query    Query
	log      zerolog.Logger
}

func NewClient(endpoint string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		http:     newHTTPClient(timeout),
		log:      log.With().Str("component", "fda").Logger(),
	}
}

// WithQuery returns a copy of c that sends q on every fetch.
func (c *Client) WithQuery(q Query) *Client {
	cp := *c
	cp.query = q
	return &cp
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Fetch returns every row of the table as a candidate. Rows whose link cell
// has no href are dropped.
func (c *Client) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.UpstreamError{
			Service:    serviceName,
			Status:     resp.StatusCode,
			Message:    strings.TrimSpace(http.StatusText(resp.StatusCode)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := validate.Struct(r); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}

	base, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candidate, 0, len(r.Data))
	for i, row := range r.Data {
		cand, ok := parseRow(row, base)
		if !ok {
			c.log.Debug().Int("row", i).Msg("row without link skipped")
			continue
		}
		out = append(out, cand)
	}
	c.log.Debug().Int("rows", len(r.Data)).Int("candidates", len(out)).Int("total", *r.RecordsTotal).Msg("fetched")
	return out, nil
}

func (c *Client) requestURL() string {
	v := url.Values{}
	for k, val := range viewParams {
		v.Set(k, val)
	}
	for i := 0; i < columnCount; i++ {
		p := fmt.Sprintf("columns[%d]", i)
		v.Set(p+"[name]", "")
		v.Set(p+"[data]", strconv.Itoa(i))
		v.Set(p+"[searchable]", "true")
		v.Set(p+"[orderable]", "true")
		v.Set(p+"[search][value]", "")
		v.Set(p+"[search][regex]", "false")
	}
	if c.query.Start > 0 {
		v.Set("start", strconv.Itoa(c.query.Start))
	}
	if c.query.Length > 0 {
		v.Set("length", strconv.Itoa(c.query.Length))
	}
	if c.query.Search != "" {
		v.Set("search_api_fulltext", c.query.Search)
	}
	sep := "?"
	if strings.Contains(c.endpoint, "?") {
		sep = "&"
	}
	return c.endpoint + sep + v.Encode()
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
