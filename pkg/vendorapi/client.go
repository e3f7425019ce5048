// Package vendorapi is the authenticated, paginated HTTP client for the
// upstream vendor API (spec §4.B): Basic auth, offset/limit pagination,
// dual array/envelope JSON decoding, and error classification into
// pkg/syncerr kinds. Every request is serialized through a
// pkg/ratelimiter.Limiter before it reaches the network.
package vendorapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/log"
	"github.com/Rene1985-stack/picqer-sync/pkg/metrics"
	"github.com/Rene1985-stack/picqer-sync/pkg/ratelimiter"
	"github.com/Rene1985-stack/picqer-sync/pkg/syncerr"
	"github.com/rs/zerolog"
)

const userAgent = "picqer-sync/1.0"

// sinceLayout is the upstream's updated_since format: space, not "T".
const sinceLayout = "2006-01-02 15:04:05"

// DefaultPageLimit is spec §6's page_limit default.
const DefaultPageLimit = 100

// DefaultTimeout is spec §5's recommended per-request timeout.
const DefaultTimeout = 30 * time.Second

// Client is the authenticated paginated HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimiter.Limiter
	logger     zerolog.Logger
}

// New creates a Client. baseURL is the vendor's HTTPS base, e.g.
// "https://example.picqer.com/api/v1". apiKey is sent as the Basic-auth
// username with an empty password.
func New(baseURL, apiKey string, limiter *ratelimiter.Limiter) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    limiter,
		logger:     log.WithComponent("vendorapi"),
	}
}

// FormatSince renders t in the upstream's updated_since format (UTC,
// space-separated, no "T").
func FormatSince(t time.Time) string {
	return t.UTC().Format(sinceLayout)
}

// Get performs one authenticated GET of endpoint with the given query
// params, decodes the JSON body as a bare array or {data:[...]} envelope,
// and returns the array elements as raw JSON messages for the caller to
// unmarshal into its own record type. The call is serialized through the
// Rate Limiter.
func (c *Client) Get(ctx context.Context, entityKind, endpoint string, params map[string]string) ([]json.RawMessage, error) {
	return ratelimiter.Execute(ctx, c.limiter, func(ctx context.Context) ([]json.RawMessage, error) {
		return c.get(ctx, entityKind, endpoint, params)
	})
}

func (c *Client) get(ctx context.Context, entityKind, endpoint string, params map[string]string) ([]json.RawMessage, error) {
	body, err := c.doRequest(ctx, entityKind, endpoint, params)
	if err != nil {
		return nil, err
	}

	items, err := decodeEnvelope(body)
	if err != nil {
		return nil, syncerr.Decode(fmt.Errorf("%s: %w", endpoint, err))
	}

	c.logger.Debug().Str("entity_kind", entityKind).Str("endpoint", endpoint).Int("items", len(items)).Msg("fetched page")
	return items, nil
}

// GetOne performs one authenticated GET of a single-resource endpoint
// (e.g. "/picklists/{id}") that returns a bare JSON object rather than a
// page envelope. Used by the Sync Engine's per-parent detail fetches
// (spec §4.F). The call is serialized through the Rate Limiter.
func (c *Client) GetOne(ctx context.Context, entityKind, endpoint string, params map[string]string) (json.RawMessage, error) {
	return ratelimiter.Execute(ctx, c.limiter, func(ctx context.Context) (json.RawMessage, error) {
		return c.doRequest(ctx, entityKind, endpoint, params)
	})
}

// doRequest issues one authenticated GET and returns the raw response
// body, classifying any failure into a pkg/syncerr kind (spec §4.B).
func (c *Client) doRequest(ctx context.Context, entityKind, endpoint string, params map[string]string) ([]byte, error) {
	reqURL, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return nil, syncerr.Transport(fmt.Errorf("building request url: %w", err))
	}
	u, err := url.Parse(reqURL)
	if err != nil {
		return nil, syncerr.Transport(fmt.Errorf("parsing request url: %w", err))
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, syncerr.Transport(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.apiKey+":")))

	timer := metrics.NewTimer()
	resp, err := c.httpClient.Do(req)
	timer.ObserveDurationVec(metrics.HTTPRequestDuration, entityKind)
	if err != nil {
		if ctx.Err() != nil {
			return nil, syncerr.Cancelled(ctx.Err())
		}
		return nil, syncerr.Transport(fmt.Errorf("%s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.Transport(fmt.Errorf("reading response body: %w", err))
	}

	metrics.HTTPRequestsTotal.WithLabelValues(entityKind, statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, syncerr.RateLimited(fmt.Errorf("%s: status 429", endpoint))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, syncerr.HTTPStatus(resp.StatusCode, fmt.Errorf("%s", endpoint))
	}

	return body, nil
}

// decodeEnvelope accepts either a bare top-level array or a {data:[...]}
// envelope, per spec §4.B and §6.
func decodeEnvelope(body []byte) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err == nil {
		return arr, nil
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: neither array nor {data:[...]} envelope: %w", err)
	}
	return envelope.Data, nil
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// PageCallback is invoked once per fetched page. Returning an error stops
// pagination and propagates the error to FetchPages's caller. pageOffset
// is the offset that produced this page, which the Sync Engine persists
// as progress.current_offset so a resume starts at the right place.
type PageCallback func(ctx context.Context, page []json.RawMessage, pageOffset int) error

// FetchOptions configures a paginated fetch (spec §4.B).
type FetchOptions struct {
	EntityKind string
	Endpoint   string
	Params     map[string]string // base params, merged with offset/limit
	Limit      int               // default DefaultPageLimit
	StartAt    int               // starting offset, e.g. progress.current_offset

	// Cutoff, if non-zero, enables the "last N days" optimization (spec
	// §4.B): pagination stops once a page's minimum updated_at is before
	// Cutoff, after sorting the page descending by UpdatedAt and dropping
	// items older than Cutoff. UpdatedAtOf must be supplied when Cutoff is set.
	Cutoff     time.Time
	UpdatedAtOf func(json.RawMessage) (time.Time, bool)
}

// FetchPages issues successive GETs per spec §4.B's pagination contract,
// invoking cb once per page, until a page has fewer than Limit items (or
// the cutoff optimization ends the stream early).
func (c *Client) FetchPages(ctx context.Context, opts FetchOptions, cb PageCallback) error {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	offset := opts.StartAt
	for {
		if err := ctx.Err(); err != nil {
			return syncerr.Cancelled(err)
		}

		params := make(map[string]string, len(opts.Params)+2)
		for k, v := range opts.Params {
			params[k] = v
		}
		params["offset"] = strconv.Itoa(offset)
		params["limit"] = strconv.Itoa(limit)

		page, err := c.Get(ctx, opts.EntityKind, opts.Endpoint, params)
		if err != nil {
			return err
		}
		metrics.PagesFetchedTotal.WithLabelValues(opts.EntityKind).Inc()

		stop := false
		if !opts.Cutoff.IsZero() && opts.UpdatedAtOf != nil {
			page, stop = applyCutoff(page, opts.Cutoff, opts.UpdatedAtOf)
		}

		if len(page) > 0 {
			if err := cb(ctx, page, offset); err != nil {
				return err
			}
		}

		if stop || len(page) < limit {
			return nil
		}
		offset += limit
	}
}

// applyCutoff sorts page descending by updated_at (the client does not
// assume upstream ordering, per spec §9's open question) and drops items
// older than cutoff. It reports whether the stream should stop after this
// page (the page's minimum updated_at, before dropping, was < cutoff).
func applyCutoff(page []json.RawMessage, cutoff time.Time, updatedAtOf func(json.RawMessage) (time.Time, bool)) ([]json.RawMessage, bool) {
	type item struct {
		raw json.RawMessage
		at  time.Time
		ok  bool
	}
	items := make([]item, len(page))
	for i, raw := range page {
		at, ok := updatedAtOf(raw)
		items[i] = item{raw: raw, at: at, ok: ok}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].at.After(items[j].at)
	})

	stop := false
	kept := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		if it.ok && it.at.Before(cutoff) {
			stop = true
			continue
		}
		kept = append(kept, it.raw)
	}
	return kept, stop
}
