package harvester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-harvest-places/config"
	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/aluiziolira/go-harvest-places/parser"
	"github.com/gocolly/colly/v2"
)

const (
	phaseSearch = "search"
	phaseDetail = "detail"

	sinkKey = "sink"
)

// PlacesClient is a Provider backed by the places search and details endpoints.
// Requests are issued synchronously through a colly collector.
type PlacesClient struct {
	cfg       *config.Config
	collector *colly.Collector
	transport *ctxTransport
	metrics   *Metrics

	mu sync.Mutex
}

// ctxTransport attaches the in-flight call's context to outgoing requests.
// colly's Request takes no context, so this is how cancellation reaches the
// connection.
type ctxTransport struct {
	mu   sync.Mutex
	ctx  context.Context
	base http.RoundTripper
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	ctx, base := t.ctx, t.base
	t.mu.Unlock()
	if ctx == nil {
		return base.RoundTrip(req)
	}

	// Keep the client's deadline from req and also cancel with ctx.
	merged, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(ctx, cancel)
	release := func() {
		stop()
		cancel()
	}

	resp, err := base.RoundTrip(req.WithContext(merged))
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releaseBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// releaseBody frees the merged context once the body is closed.
type releaseBody struct {
	io.ReadCloser
	release func()
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func (t *ctxTransport) bind(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
}

// setTransport replaces the underlying round tripper, keeping cancellation.
func (c *PlacesClient) setTransport(rt http.RoundTripper) {
	c.transport.mu.Lock()
	c.transport.base = rt
	c.transport.mu.Unlock()
}

type responseSink struct {
	status int
	body   []byte
}

// NewPlacesClient builds a client configured from cfg.
func NewPlacesClient(cfg *config.Config, metrics *Metrics) (*PlacesClient, error) {
	var hosts []string
	for _, endpoint := range []string{cfg.SearchURL, cfg.DetailsURL} {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("endpoint %q must include a host", endpoint)
		}
		hosts = append(hosts, parsed.Hostname())
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(hosts...),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)

	// The timeout bounds each request; ctx cancellation is applied by
	// ctxTransport.
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	transport := &ctxTransport{base: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}}
	collector.WithTransport(transport)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		sink, ok := r.Ctx.GetAny(sinkKey).(*responseSink)
		if !ok {
			return
		}
		sink.status = r.StatusCode
		sink.body = r.Body
	})

	return &PlacesClient{
		cfg:       cfg,
		collector: collector,
		transport: transport,
		metrics:   metrics,
	}, nil
}

// Search fetches one page of results around the query center.
func (c *PlacesClient) Search(ctx context.Context, q models.SearchQuery, pageToken string) (*models.Page, error) {
	params := url.Values{}
	params.Set("location", formatCoord(q.Lat())+","+formatCoord(q.Lng()))
	params.Set("radius", strconv.Itoa(q.RadiusMeters))
	params.Set("type", q.Category)
	params.Set("key", c.cfg.APIKey)
	if pageToken != "" {
		params.Set("pagetoken", pageToken)
	}

	body, status, err := c.get(ctx, phaseSearch, c.cfg.SearchURL, params)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, &ProviderError{Op: phaseSearch, HTTPStatus: status, PageToken: pageToken != ""}
	}

	page, env, err := parser.ParseSearchResponse(body)
	if err != nil {
		return nil, &SchemaError{Op: phaseSearch, Err: err}
	}
	if !env.OK() {
		return nil, &ProviderError{
			Op:         phaseSearch,
			HTTPStatus: status,
			Status:     env.Status,
			Message:    env.ErrorMessage,
			PageToken:  pageToken != "",
		}
	}
	return page, nil
}

// Detail fetches phone and opening hours for one place.
func (c *PlacesClient) Detail(ctx context.Context, externalID string) (models.DetailInfo, error) {
	params := url.Values{}
	params.Set("place_id", externalID)
	params.Set("fields", strings.Join(c.cfg.DetailFields, ","))
	params.Set("key", c.cfg.APIKey)

	body, status, err := c.get(ctx, phaseDetail, c.cfg.DetailsURL, params)
	if err != nil {
		return models.DetailInfo{}, err
	}
	if status >= http.StatusBadRequest {
		return models.DetailInfo{}, &ProviderError{Op: phaseDetail, HTTPStatus: status}
	}

	info, env, err := parser.ParseDetailResponse(body)
	if err != nil {
		return models.DetailInfo{}, &SchemaError{Op: phaseDetail, Err: err}
	}
	if !env.OK() {
		return models.DetailInfo{}, &ProviderError{
			Op:         phaseDetail,
			HTTPStatus: status,
			Status:     env.Status,
			Message:    env.ErrorMessage,
		}
	}
	return info, nil
}

func (c *PlacesClient) get(ctx context.Context, phase, endpoint string, params url.Values) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: parse endpoint: %w", phase, err)
	}
	query := target.Query()
	for key, values := range params {
		query[key] = values
	}
	target.RawQuery = query.Encode()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport.bind(ctx)
	defer c.transport.bind(nil)

	sink := &responseSink{}
	reqCtx := colly.NewContext()
	reqCtx.Put(sinkKey, sink)

	c.metrics.IncRequest(phase)
	start := time.Now()
	err = c.collector.Request(http.MethodGet, target.String(), nil, reqCtx, nil)
	c.metrics.ObserveDuration(phase, time.Since(start))
	if err != nil {
		if errors.Is(err, colly.ErrForbiddenDomain) || errors.Is(err, colly.ErrMissingURL) {
			return nil, 0, fmt.Errorf("%s: %w", phase, err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redactKey(urlErr.URL)
		}
		return nil, 0, &TransportError{Op: phase, Err: err}
	}
	if sink.status == 0 {
		return nil, 0, &TransportError{Op: phase, Err: errors.New("no response received")}
	}
	return sink.body, sink.status, nil
}

// redactKey masks the key query parameter so errors can be logged.
func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
